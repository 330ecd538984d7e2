package pb

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/bundle-launcher/internal/domain/bootstrap"
)

// Field names of the wire status.
const (
	FieldState        = "state"
	FieldPID          = "pid"
	FieldRestarts     = "restarts"
	FieldLastExitCode = "last_exit_code"
	FieldStartedAt    = "started_at"
	FieldUpdatedAt    = "updated_at"
	FieldBundleRoot   = "bundle_root"

	FieldHostname = "hostname"
	FieldUsername = "username"
)

// StatusToStruct converts a status into its wire form. Times are RFC 3339
// strings; zero times are omitted.
func StatusToStruct(status *bootstrap.Status) (*structpb.Struct, error) {
	if status == nil {
		return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
	}

	fields := map[string]any{
		FieldState:        status.State.String(),
		FieldPID:          status.PID,
		FieldRestarts:     status.Restarts,
		FieldLastExitCode: status.LastExitCode,
		FieldBundleRoot:   status.BundleRoot,
	}

	if !status.StartedAt.IsZero() {
		fields[FieldStartedAt] = status.StartedAt.UTC().Format(time.RFC3339Nano)
	}

	if !status.UpdatedAt.IsZero() {
		fields[FieldUpdatedAt] = status.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}

	result, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}

	return result, nil
}

// StatusFromStruct converts the wire form back into a status. Unknown states
// decode as bootstrap.StatePending; malformed times decode as zero.
func StatusFromStruct(message *structpb.Struct) *bootstrap.Status {
	fields := message.GetFields()

	status := &bootstrap.Status{
		State:        bootstrap.ParseState(fields[FieldState].GetStringValue()),
		PID:          int(fields[FieldPID].GetNumberValue()),
		Restarts:     int(fields[FieldRestarts].GetNumberValue()),
		LastExitCode: int(fields[FieldLastExitCode].GetNumberValue()),
		BundleRoot:   fields[FieldBundleRoot].GetStringValue(),
	}

	if _, ok := fields[FieldLastExitCode]; !ok {
		status.LastExitCode = -1
	}

	status.StartedAt = parseTime(fields[FieldStartedAt].GetStringValue())
	status.UpdatedAt = parseTime(fields[FieldUpdatedAt].GetStringValue())

	return status
}

// ActorToStruct builds a halt request naming the requesting actor.
func ActorToStruct(hostname, username string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		FieldHostname: hostname,
		FieldUsername: username,
	})
}

// ActorFromStruct reads the requesting actor of a halt request.
func ActorFromStruct(message *structpb.Struct) (hostname, username string) {
	fields := message.GetFields()

	return fields[FieldHostname].GetStringValue(), fields[FieldUsername].GetStringValue()
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}

	return parsed
}
