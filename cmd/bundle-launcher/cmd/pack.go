package cmd

import (
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/oshokin/bundle-launcher/internal/logger"
	"github.com/oshokin/bundle-launcher/internal/service/extractor"
	"github.com/oshokin/bundle-launcher/internal/service/packager"
)

var (
	// packOutput is the archive path.
	packOutput string
	// packFormat is zip, tar.gz or tar.zst.
	packFormat string
	// packPrefix names the top-level directory inside the archive.
	packPrefix string
)

// packCmd builds a bundle archive from a local directory.
var packCmd = &cobra.Command{
	Use:   "pack <directory>",
	Short: "Build a bundle archive from a local directory.",
	Long: `Packs the directory under a single top-level folder, the layout of branch archives,
so the result can be served to the launcher instead of a repository download.
.git and node_modules directories are skipped. The archive's SHA-256 is printed
for publishing next to it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		result, err := packager.Run(ctx, &packager.Options{
			Source: args[0],
			Output: packOutput,
			Format: extractor.Format(packFormat),
			Prefix: packPrefix,
		})
		if err != nil {
			return err
		}

		logger.InfoKV(ctx, "Bundle packed",
			"path", result.Path,
			"format", result.Format,
			"files", result.Files,
			"size", humanize.IBytes(uint64(result.Bytes)), //nolint:gosec // Sizes are never negative.
			"sha256", result.Checksum,
		)

		return nil
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	packCmd.Flags().StringVarP(&packOutput, "output", "o", "", "archive path (default <prefix>.<format>)")
	packCmd.Flags().StringVarP(&packFormat, "format", "f", string(extractor.FormatZip), "archive format: zip, tar.gz or tar.zst")
	packCmd.Flags().StringVar(&packPrefix, "prefix", "", "top-level directory inside the archive (default the directory name)")
}
