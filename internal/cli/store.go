package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ripple/internal/config"
	"github.com/roach88/ripple/internal/statestore"
)

// session is a store opened from the configured definition.
type session struct {
	def     *config.Definition
	store   *statestore.Store
	backend io.Closer
	out     *OutputFormatter
	opts    *RootOptions
}

// openSession loads the definition and opens its store.
func openSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	def, err := config.Load(opts.Config)
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error())
		return nil, WrapExitError(ExitCommandError, "failed to load store definition", err)
	}

	backend, closer, err := config.OpenBackend(def.Backend, opts.Logger)
	if err != nil {
		_ = out.Error(ErrCodeBackend, err.Error())
		return nil, WrapExitError(ExitCommandError, "failed to open backend", err)
	}

	storeOpts := append(def.StoreOptions(backend), statestore.WithLogger(opts.Logger))
	s, err := statestore.New(def.Initial, storeOpts...)
	if err != nil {
		_ = closer.Close()
		_ = out.Error(ErrCodeStore, err.Error())
		return nil, WrapExitError(ExitFailure, "failed to open store", err)
	}

	opts.Logger.Debug("store opened",
		"config", opts.Config,
		"storage_id", def.StorageID,
		"backend", def.Backend.Kind,
	)
	return &session{def: def, store: s, backend: closer, out: out, opts: opts}, nil
}

// close releases the store, keeping its persisted entry.
func (s *session) close() {
	if err := s.store.Close(); err != nil && !statestore.IsDestroyed(err) {
		s.opts.Logger.Error("error closing store", "error", err)
	}
	if err := s.backend.Close(); err != nil {
		s.opts.Logger.Error("error closing backend", "error", err)
	}
}

// fail reports a store error and converts it into an ExitError.
func (s *session) fail(message string, err error) error {
	_ = s.out.Error(ErrCodeStore, err.Error())
	return WrapExitError(ExitFailure, message, err)
}

// parseAssignments parses key=value arguments. Values are JSON when they
// parse as JSON and plain strings otherwise, so name=ada and n=3 both work.
func parseAssignments(args []string) (statestore.State, error) {
	partial := statestore.State{}
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		partial[key] = v
	}
	return partial, nil
}
