package index

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arvimal/osbuild/pkg/config"
	"github.com/arvimal/osbuild/pkg/index"
	"github.com/arvimal/osbuild/pkg/registry"
)

var Registry registry.CommandRegistry

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Provenance index queries",
	}
	return Registry.FillCommands(cmd)
}

func init() {
	Registry.Register(func(c *cobra.Command) {
		c.AddCommand(&cobra.Command{
			Use:   "list",
			Short: "List fetched digests with their origin",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, args []string) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				ix, err := index.Open(cfg.IndexPath())
				if err != nil {
					return err
				}
				defer ix.Close()

				entries, err := ix.List(c.Context())
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
				fmt.Fprintln(w, "DIGEST\tSIZE\tFETCHED\tURL")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
						e.Digest, e.SizeBytes, e.CompletedAt.Format(time.RFC3339), e.URL)
				}
				return w.Flush()
			},
		})
	})
}
