package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/ripple/internal/statestore"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Keys  []string
	Count int // stop after this many emissions; 0 means run until interrupted
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the state every time it changes",
		Long: `Print the current state, then the full state after every change,
including changes made by other processes sharing the storage id.

Examples:
  ripple watch
  ripple watch --keys theme,volume --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Keys, "keys", nil, "only report changes to these keys")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "exit after this many emissions")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	sess, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer sess.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			opts.Logger.Info("received signal, stopping", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	scope := statestore.All()
	if len(opts.Keys) > 0 {
		scope = statestore.Keys(opts.Keys...)
	}

	var (
		mu      sync.Mutex
		emitted int
		outErr  error
	)
	sub, err := sess.store.SubscribeState(scope, func(state, _ statestore.State) {
		mu.Lock()
		defer mu.Unlock()
		if outErr != nil || (opts.Count > 0 && emitted >= opts.Count) {
			return
		}
		if err := sess.out.Value(state); err != nil {
			outErr = err
			cancel()
			return
		}
		emitted++
		if opts.Count > 0 && emitted >= opts.Count {
			cancel()
		}
	})
	if err != nil {
		return sess.fail("watch failed", err)
	}
	defer sub.Unsubscribe()

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	if outErr != nil {
		return WrapExitError(ExitFailure, "write failed", outErr)
	}
	opts.Logger.Debug("watch stopped", "emitted", emitted)
	return nil
}
