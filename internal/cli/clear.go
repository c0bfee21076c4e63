package cli

import (
	"github.com/spf13/cobra"
)

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the persisted state",
		Long: `Destroy the store, removing its persisted entry. Other processes
watching the same storage id keep their in-memory state.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer sess.close()

			if err := sess.store.Destroy(); err != nil {
				return sess.fail("clear failed", err)
			}
			if sess.def.StorageID == "" {
				return sess.out.Success("nothing persisted (no storage_id)")
			}
			return sess.out.Success("cleared " + sess.def.StorageID)
		},
	}
}
