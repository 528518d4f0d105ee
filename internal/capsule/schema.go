package capsule

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// schema holds the compiled #Capsule definition. CUE values are not safe
// for concurrent evaluation, so every use goes through mu.
var schema struct {
	once sync.Once
	mu   sync.Mutex
	ctx  *cue.Context
	def  cue.Value
	err  error
}

func compiledSchema() (*cue.Context, cue.Value, error) {
	schema.once.Do(func() {
		schema.ctx = cuecontext.New()
		v := schema.ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schema.err = fmt.Errorf("compile capsule schema: %w", err)
			return
		}
		schema.def = v.LookupPath(cue.ParsePath("#Capsule"))
		if err := schema.def.Err(); err != nil {
			schema.err = fmt.Errorf("lookup #Capsule: %w", err)
		}
	})
	return schema.ctx, schema.def, schema.err
}

// ValidateShape checks decoded document fields against the capsule schema.
// The returned error lists every violation, one per line.
func ValidateShape(fields map[string]any) error {
	ctx, def, err := compiledSchema()
	if err != nil {
		return err
	}

	schema.mu.Lock()
	defer schema.mu.Unlock()

	v := ctx.Encode(fields)
	if err := v.Err(); err != nil {
		return formatCUEError(err)
	}
	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// formatCUEError flattens a CUE error list into path-prefixed lines.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	lines := make([]string, 0, len(errs))
	for _, e := range errs {
		msg := e.Error()
		if path := strings.Join(e.Path(), "."); path != "" && !strings.HasPrefix(msg, path) {
			msg = path + ": " + msg
		}
		lines = append(lines, msg)
	}
	return fmt.Errorf("%s", strings.Join(lines, "\n"))
}
