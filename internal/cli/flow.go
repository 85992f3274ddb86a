package cli

import (
	"github.com/spf13/cobra"

	"github.com/cadenroberts/OllamaBot-sub000/internal/flowcode"
	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
)

// NewFlowCommand creates the flow command and its subcommands. They work on
// flow code text and need no session.
func NewFlowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Decode and validate flow codes",
		Long: `Decode and validate flow codes such as S1P123S2P12123.

Each block is a schedule followed by its processes in order; X marks a
process that ended in error.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "decode <code>",
		Short:         "List the transitions of a flow code",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, args []string) error {
			out := formatter(rootOpts, c)
			transitions, err := flowcode.Decode(args[0])
			if err != nil {
				return out.Fail(err)
			}
			v := FlowView{Code: args[0], Transitions: []string{}, Steps: []string{}}
			for _, tr := range transitions {
				v.Transitions = append(v.Transitions, tr.String())
				v.Steps = append(v.Steps, model.StepName(tr.Schedule, tr.Process))
			}
			return out.Success(v)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "validate <code>",
		Short:         "Check a flow code against the grammar and adjacency rules",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, args []string) error {
			out := formatter(rootOpts, c)
			if err := flowcode.Validate(args[0]); err != nil {
				return out.Fail(err)
			}
			out.VerboseLog("%s is valid", args[0])
			return out.Success("valid")
		},
	})

	return cmd
}
