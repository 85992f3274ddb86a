package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cadenroberts/OllamaBot-sub000/internal/engine"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return sessionCommand(rootOpts, &cobra.Command{
		Use:   "status",
		Short: "Show the navigator state of the session",
		Args:  cobra.NoArgs,
	}, func(ctx context.Context, s *engine.Session, args []string) (any, error) {
		return newStatusView(s), nil
	})
}

// LogOptions holds flags for the log command.
type LogOptions struct {
	Verify bool
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{}
	cmd := sessionCommand(rootOpts, &cobra.Command{
		Use:   "log",
		Short: "List committed states and checkpoints",
		Long: `List committed states and checkpoints. With --verify the whole log is
replayed against the checkpoints first.`,
		Args: cobra.NoArgs,
	}, func(ctx context.Context, s *engine.Session, args []string) (any, error) {
		if opts.Verify {
			if err := s.Verify(ctx); err != nil {
				return nil, err
			}
		}
		v := LogView{FlowCode: s.FlowCode(), Nodes: []NodeView{}, Checkpoints: []CheckpointView{}}
		for _, n := range s.Log() {
			v.Nodes = append(v.Nodes, newNodeView(n))
		}
		for _, c := range s.Checkpoints() {
			v.Checkpoints = append(v.Checkpoints, newCheckpointView(c))
		}
		return v, nil
	})

	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "replay the log against the checkpoints")

	return cmd
}
