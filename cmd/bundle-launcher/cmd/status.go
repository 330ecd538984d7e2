package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/oshokin/bundle-launcher/internal/config"
	"github.com/oshokin/bundle-launcher/internal/domain/bootstrap"
	repository "github.com/oshokin/bundle-launcher/internal/repository/state"
	"github.com/oshokin/bundle-launcher/internal/service/common"
)

// controlAddress overrides control_address from the settings.
var controlAddress string

// errNoStatusSource is returned when neither the control API nor a status file is configured.
var errNoStatusSource = errors.New("neither control_address nor status_file is configured")

// statusCmd prints the supervisor status of a running launcher.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of the supervised application.",
	Long: `Queries the control API of a running launcher. Without a control address the
status file written by the launcher is read instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		status, err := loadStatus(ctx, cfg)
		if err != nil {
			return err
		}

		printStatus(cmd.OutOrStdout(), status)

		return nil
	},
}

func loadStatus(ctx context.Context, cfg *config.Config) (*bootstrap.Status, error) {
	address := controlAddress
	if address == "" {
		address = cfg.ControlAddress
	}

	if address != "" {
		client, err := common.Dial(ctx, address)
		if err != nil {
			return nil, err
		}

		defer func() {
			_ = client.Close()
		}()

		return client.Status(ctx)
	}

	if cfg.StatusFile == "" {
		return nil, errNoStatusSource
	}

	return repository.NewFileRepository(cfg.StatusFile).Load(ctx)
}

func printStatus(w io.Writer, status *bootstrap.Status) {
	_, _ = fmt.Fprintf(w, "state:      %s\n", status.State)

	if status.PID > 0 {
		_, _ = fmt.Fprintf(w, "pid:        %d\n", status.PID)
	}

	_, _ = fmt.Fprintf(w, "restarts:   %d\n", status.Restarts)

	if status.LastExitCode >= 0 {
		_, _ = fmt.Fprintf(w, "last exit:  %d\n", status.LastExitCode)
	}

	if !status.StartedAt.IsZero() {
		_, _ = fmt.Fprintf(w, "started:    %s\n", humanize.Time(status.StartedAt))
	}

	if !status.UpdatedAt.IsZero() {
		_, _ = fmt.Fprintf(w, "updated:    %s\n", humanize.Time(status.UpdatedAt))
	}

	if status.BundleRoot != "" {
		_, _ = fmt.Fprintf(w, "bundle:     %s\n", status.BundleRoot)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	statusCmd.Flags().StringVarP(&controlAddress, "address", "a", "", "control API address (default control_address from settings)")
}
