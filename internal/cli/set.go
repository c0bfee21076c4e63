package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/ripple/internal/statestore"
)

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key=value>...",
		Short: "Merge values into the state",
		Long: `Merge one or more values into the state in a single update.

Values are parsed as JSON when possible and taken as strings otherwise.
The command returns once the change has been persisted and announced.

Examples:
  ripple set theme=dark volume=7
  ripple set 'recent=["a","b"]'`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			partial, err := parseAssignments(args)
			if err != nil {
				out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
				_ = out.Error(ErrCodeInvalidArgs, err.Error())
				return WrapExitError(ExitCommandError, "invalid arguments", err)
			}

			return update(rootOpts, cmd, func(s *statestore.Store) (statestore.State, error) {
				return s.SetState(partial)
			})
		},
	}
}

// NewToggleCommand creates the toggle command.
func NewToggleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <key>",
		Short: "Flip a boolean value",
		Long: `Flip a boolean value. Fails if the value is missing or not a boolean.

Example:
  ripple toggle muted`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return update(rootOpts, cmd, func(s *statestore.Store) (statestore.State, error) {
				return s.Toggle(args[0])
			})
		},
	}
}

// update runs fn as one window and prints the resulting state once its
// cycle has completed.
func update(opts *RootOptions, cmd *cobra.Command, fn func(*statestore.Store) (statestore.State, error)) error {
	sess, err := openSession(opts, cmd)
	if err != nil {
		return err
	}
	defer sess.close()

	var (
		state statestore.State
		opErr error
	)
	if err := sess.store.Batch(cmd.Context(), func() {
		state, opErr = fn(sess.store)
	}); err != nil {
		return sess.fail("update failed", err)
	}
	if opErr != nil {
		return sess.fail("update failed", opErr)
	}
	return sess.out.State(state)
}
