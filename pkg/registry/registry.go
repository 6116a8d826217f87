package registry

import "github.com/spf13/cobra"

// CommandRegistry collects subcommand installers so that command packages
// can register themselves from init() without import cycles.
type CommandRegistry struct {
	fillers []func(c *cobra.Command)
}

// Register queues a function that attaches one or more subcommands to a
// parent command.
func (r *CommandRegistry) Register(fill func(c *cobra.Command)) {
	r.fillers = append(r.fillers, fill)
}

// FillCommands runs every registered installer against cmd and returns cmd.
func (r *CommandRegistry) FillCommands(cmd *cobra.Command) *cobra.Command {
	for _, fill := range r.fillers {
		fill(cmd)
	}
	return cmd
}
