package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/bundle-launcher/internal/config"
	"github.com/oshokin/bundle-launcher/internal/logger"
	"github.com/oshokin/bundle-launcher/internal/service/common"
)

// errNoControlAddress is returned when halt has nowhere to connect.
var errNoControlAddress = errors.New("control_address is not configured")

// haltCmd stops the supervised application of a running launcher.
var haltCmd = &cobra.Command{
	Use:   "halt",
	Short: "Stop the supervised application without restarting it.",
	Long: `Asks a running launcher, through its control API, to terminate the application.
The launcher does not restart it and exits once the application has stopped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		address := controlAddress
		if address == "" {
			address = cfg.ControlAddress
		}

		if address == "" {
			return errNoControlAddress
		}

		actor, err := common.DetectActor()
		if err != nil {
			return fmt.Errorf("detect actor: %w", err)
		}

		client, err := common.Dial(ctx, address)
		if err != nil {
			return err
		}

		defer func() {
			_ = client.Close()
		}()

		status, err := client.Halt(ctx, actor)
		if err != nil {
			return err
		}

		logger.InfoKV(ctx, "Halt requested", "pid", status.PID, "state", status.State)

		return nil
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	haltCmd.Flags().StringVarP(&controlAddress, "address", "a", "", "control API address (default control_address from settings)")
}
