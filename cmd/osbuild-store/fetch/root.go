package fetch

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/arvimal/osbuild/pkg/batch"
	"github.com/arvimal/osbuild/pkg/config"
	"github.com/arvimal/osbuild/pkg/index"
	"github.com/arvimal/osbuild/pkg/jobapi"
)

// GetCommand returns the fetch command: run one work request read from a
// file or stdin, write the single response object to stdout.
func GetCommand() *cobra.Command {
	var progress bool
	var noIndex bool

	cmd := &cobra.Command{
		Use:   "fetch [request.json]",
		Short: "Fetch a batch of digests into the store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			var in io.Reader = os.Stdin
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			req, err := jobapi.Decode(in)
			if err != nil {
				return respond(jobapi.Failure(err))
			}
			if req.StoreDir == "" {
				req.StoreDir = cfg.StoreDir
			}

			coord, err := batch.NewFromConfig(cfg)
			if err != nil {
				return err
			}
			if progress {
				coord.ProgressWriter = os.Stderr
			}
			if !noIndex {
				ix, err := index.Open(cfg.IndexPath())
				if err != nil {
					slog.Warn("provenance index unavailable", "err", err)
				} else {
					defer ix.Close()
					coord.Index = ix
				}
			}

			return respond(coord.Run(c.Context(), req))
		},
	}
	cmd.Flags().BoolVar(&progress, "progress", false, "Show a progress bar on stderr")
	cmd.Flags().BoolVar(&noIndex, "no-index", false, "Skip provenance recording")
	return cmd
}

// respond prints the response object and maps a batch failure onto the
// process exit status.
func respond(resp jobapi.Response) error {
	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("batch failed: %s", resp.Error)
	}
	return nil
}
