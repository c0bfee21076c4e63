// Package config loads store definitions written in CUE.
//
// A definition file looks like:
//
//	store: {
//		storage_id:   "prefs"
//		include_keys: ["theme", "volume"]
//		initial: {theme: "light", volume: 3, muted: false}
//	}
//	backend: {kind: "sqlite", path: "prefs.db"}
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaSource string

// Backend kinds.
const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
	KindBolt   = "bolt"
)

// Definition is a decoded store definition.
type Definition struct {
	// StorageID enables persistence when non-empty.
	StorageID string

	// IncludeKeys is nil when the field is absent.
	IncludeKeys []string

	// ExcludeKeys is nil when the field is absent.
	ExcludeKeys []string

	// Initial is the state the store starts from.
	Initial map[string]any

	Backend BackendDef
}

// BackendDef selects where persisted state lives.
type BackendDef struct {
	Kind         string
	Path         string
	PollInterval time.Duration // sqlite only; 0 means the default
}

// Error codes reported by Load.
const (
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeBuildFailed = "E006" // CUE build or schema validation failed
	ErrCodeInvalid     = "E201" // Definition is structurally valid but unusable
)

// LoadError is returned by Load, with a CUE position when one is known.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load reads a definition from a .cue file or from a directory holding
// one CUE package.
func Load(path string) (*Definition, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing config: %v", err)}
	}

	ctx := cuecontext.New()

	var value cue.Value
	if info.IsDir() {
		instances := load.Instances([]string{"."}, &load.Config{Dir: path})
		if len(instances) == 0 {
			return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
		}
		if inst := instances[0]; inst.Err != nil {
			return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
		}
		value = ctx.BuildInstance(instances[0])
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", path, err)}
		}
		value = ctx.CompileBytes(data, cue.Filename(filepath.Base(path)))
	}

	return decode(ctx, value)
}

// Parse decodes a definition from CUE source.
func Parse(filename string, src []byte) (*Definition, error) {
	ctx := cuecontext.New()
	return decode(ctx, ctx.CompileBytes(src, cue.Filename(filename)))
}

func decode(ctx *cue.Context, value cue.Value) (*Definition, error) {
	if err := value.Err(); err != nil {
		return nil, buildError("building CUE value", err)
	}

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, buildError("compiling schema", err)
	}

	value = schema.Unify(value)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, buildError("validating definition", err)
	}

	def := &Definition{}
	storeVal := value.LookupPath(cue.ParsePath("store"))

	if v := storeVal.LookupPath(cue.ParsePath("storage_id")); v.Exists() {
		def.StorageID, _ = v.String()
	}
	var err error
	if def.IncludeKeys, err = stringList(storeVal, "include_keys"); err != nil {
		return nil, err
	}
	if def.ExcludeKeys, err = stringList(storeVal, "exclude_keys"); err != nil {
		return nil, err
	}
	if def.IncludeKeys != nil && def.ExcludeKeys != nil {
		return nil, &LoadError{
			Code:    ErrCodeInvalid,
			Message: "include_keys and exclude_keys are mutually exclusive",
			Pos:     storeVal.LookupPath(cue.ParsePath("exclude_keys")).Pos(),
		}
	}

	def.Initial = map[string]any{}
	if err := storeVal.LookupPath(cue.ParsePath("initial")).Decode(&def.Initial); err != nil {
		return nil, buildError("decoding store.initial", err)
	}

	backendVal := value.LookupPath(cue.ParsePath("backend"))
	def.Backend.Kind, _ = backendVal.LookupPath(cue.ParsePath("kind")).String()
	if v := backendVal.LookupPath(cue.ParsePath("path")); v.Exists() {
		def.Backend.Path, _ = v.String()
	}
	if v := backendVal.LookupPath(cue.ParsePath("poll_interval")); v.Exists() {
		s, _ := v.String()
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return nil, &LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf("invalid poll_interval %q", s), Pos: v.Pos()}
		}
		def.Backend.PollInterval = d
	}

	if def.Backend.Kind != KindMemory && def.Backend.Path == "" {
		return nil, &LoadError{
			Code:    ErrCodeInvalid,
			Message: fmt.Sprintf("backend %q requires a path", def.Backend.Kind),
			Pos:     backendVal.Pos(),
		}
	}

	return def, nil
}

// stringList decodes an optional list field. Absent fields yield nil and
// present-but-empty lists yield an empty, non-nil slice.
func stringList(parent cue.Value, field string) ([]string, error) {
	v := parent.LookupPath(cue.ParsePath(field))
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, buildError("reading "+field, err)
	}
	out := []string{}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, buildError("reading "+field, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// buildError converts a CUE error into a LoadError carrying its first position.
func buildError(what string, err error) *LoadError {
	le := &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("%s: %v", what, err)}
	for _, e := range cueerrors.Errors(err) {
		if ps := e.InputPositions(); len(ps) > 0 {
			le.Pos = ps[0]
			break
		}
		if p := e.Position(); p.IsValid() {
			le.Pos = p
			break
		}
	}
	return le
}
