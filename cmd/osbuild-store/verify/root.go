package verify

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/arvimal/osbuild/pkg/config"
	"github.com/arvimal/osbuild/pkg/digest"
	"github.com/arvimal/osbuild/pkg/store"
)

// GetCommand returns the verify command: re-hash every committed entry
// against its filename. Entry names carry no algorithm prefix, so the
// algorithm is inferred from the hex length.
func GetCommand() *cobra.Command {
	var storeDir string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-hash every store entry against its digest name",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if storeDir == "" {
				storeDir = cfg.StoreDir
			}

			st, err := store.Open(storeDir)
			if err != nil {
				return err
			}
			entries, err := st.List()
			if err != nil {
				return err
			}

			var bad int
			for _, hexName := range entries {
				algo, err := digest.InferAlgorithm(hexName)
				if err != nil {
					slog.Warn("unrecognized entry name", "entry", hexName, "err", err)
					bad++
					continue
				}
				d := digest.Digest{Algorithm: algo, Hex: hexName}
				ok, err := d.MatchesFile(st.Path(d))
				if err != nil {
					return err
				}
				if !ok {
					slog.Error("corrupt entry", "digest", d)
					bad++
				}
			}

			slog.Info("verification finished", "entries", len(entries), "corrupt", bad)
			if bad > 0 {
				return fmt.Errorf("%d corrupt entries in %s", bad, storeDir)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&storeDir, "store", "", "Store root (defaults to the configured one)")
	return cmd
}
