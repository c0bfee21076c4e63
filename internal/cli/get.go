package cli

import (
	"github.com/spf13/cobra"
)

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Print the state or one value",
		Long: `Print the current state, or the value of one key.

Examples:
  ripple get
  ripple get theme --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer sess.close()

			if len(args) == 1 {
				v, err := sess.store.CloneKey(args[0])
				if err != nil {
					return sess.fail("get failed", err)
				}
				return sess.out.Value(v)
			}

			state, err := sess.store.GetState()
			if err != nil {
				return sess.fail("get failed", err)
			}
			return sess.out.State(state)
		},
	}
}
