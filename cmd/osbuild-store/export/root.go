package export

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arvimal/osbuild/pkg/config"
	"github.com/arvimal/osbuild/pkg/digest"
	"github.com/arvimal/osbuild/pkg/store"
)

// GetCommand returns the export command: copy committed entries to a
// delivery directory.
func GetCommand() *cobra.Command {
	var storeDir string
	var outputDir string

	cmd := &cobra.Command{
		Use:   "export digest...",
		Short: "Copy cached entries to an output directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if storeDir == "" {
				storeDir = cfg.StoreDir
			}
			if outputDir == "" {
				return fmt.Errorf("--output is required")
			}

			digests := make([]digest.Digest, 0, len(args))
			for _, arg := range args {
				d, err := digest.Parse(arg)
				if err != nil {
					return err
				}
				digests = append(digests, d)
			}

			st, err := store.Open(storeDir)
			if err != nil {
				return err
			}
			return st.Export(c.Context(), digests, outputDir)
		},
	}
	cmd.Flags().StringVar(&storeDir, "store", "", "Store root (defaults to the configured one)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory")
	return cmd
}
