package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/bundle-launcher/internal/config"
	"github.com/oshokin/bundle-launcher/internal/domain/bootstrap"
	pb "github.com/oshokin/bundle-launcher/internal/pb/v1"
)

// Repository defines persistence operations for the supervisor status.
type Repository interface {
	Load(ctx context.Context) (*bootstrap.Status, error)
	Save(ctx context.Context, status *bootstrap.Status) error
}

// FileRepository persists the status to a JSON file on disk.
// JSON is produced and consumed via protobuf JSON (protojson) to stay
// identical to what the control API returns.
type FileRepository struct {
	// path is the filesystem location of the JSON status file.
	path string
	// mu protects concurrent access to the status file.
	mu sync.Mutex
}

// ErrNotFound is returned when the status file does not exist yet.
var ErrNotFound = errors.New("status not found")

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the status file location.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the status from disk.
func (r *FileRepository) Load(_ context.Context) (*bootstrap.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read status file: %w", err)
	}

	var message structpb.Struct
	if err = protojson.Unmarshal(contents, &message); err != nil {
		return nil, fmt.Errorf("decode status file: %w", err)
	}

	return pb.StatusFromStruct(&message), nil
}

// Save writes the status to disk, replacing the file atomically.
func (r *FileRepository) Save(_ context.Context, status *bootstrap.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	message, err := pb.StatusToStruct(status)
	if err != nil {
		return err
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline:       true,
		EmitUnpopulated: true,
	}

	data, err := marshalOptions.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}

	temporaryPath := r.path + ".tmp"
	if err = os.WriteFile(temporaryPath, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}

	if err = os.Rename(temporaryPath, r.path); err != nil {
		_ = os.Remove(temporaryPath)

		return fmt.Errorf("replace status file: %w", err)
	}

	return nil
}

// Remove deletes the status file; a missing file is not an error.
func (r *FileRepository) Remove(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove status file: %w", err)
	}

	return nil
}
