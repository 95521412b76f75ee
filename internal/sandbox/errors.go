package sandbox

import (
	"github.com/dop251/goja"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/errs"
)

// Rejection carries the reason of a rejected completion promise
type Rejection struct {
	Value goja.Value
}

func (r *Rejection) Error() string {
	if r.Value == nil {
		return "promise rejected"
	}
	return "promise rejected: " + safeString(r.Value)
}

// Node-style codes thrown by the natives, mapped back to host kinds
var codeKinds = map[string]errs.Kind{
	"ERR_OUT_OF_RANGE":         errs.KindOutOfRange,
	"ERR_BUFFER_OUT_OF_BOUNDS": errs.KindOutOfRange,
	"ERR_INVALID_ARG_TYPE":     errs.KindTypeMismatch,
	"ERR_INVALID_ARG_VALUE":    errs.KindTypeMismatch,
	"ERR_BUFFER_RELEASED":      errs.KindReleased,
}

// ScriptError converts an uncaught guest exception into a host error. The
// exception's code property selects the kind; anything else is a script
// error.
func ScriptError(v goja.Value) *errs.Error {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return errs.New(errs.KindScript, "execute", "uncaught %v", v)
	}

	kind := errs.KindScript
	op := "execute"
	if obj, ok := v.(*goja.Object); ok {
		if code := safeGet(obj, "code"); code != nil && !goja.IsUndefined(code) {
			op = safeString(code)
			if k, ok := codeKinds[op]; ok {
				kind = k
			}
		}
	}
	return &errs.Error{Kind: kind, Op: op, Detail: safeString(v)}
}

// Guest objects may carry throwing getters or toString methods
func safeString(v goja.Value) (s string) {
	defer func() {
		if recover() != nil {
			s = "<unprintable value>"
		}
	}()
	return v.String()
}

func safeGet(obj *goja.Object, name string) (v goja.Value) {
	defer func() {
		if recover() != nil {
			v = nil
		}
	}()
	return obj.Get(name)
}

// Compile parses source into a program. The source is wrapped in a block
// so its top-level let, const and class bindings do not outlive the
// execution; the completion value is unchanged.
func Compile(name, source string, strict bool) (*goja.Program, error) {
	prog, err := goja.Compile(name, "{\n"+source+"\n}", strict)
	if err != nil {
		return nil, errs.Compile(err)
	}
	return prog, nil
}

// ProgramSize approximates the retained size of a compiled program
func ProgramSize(source string) int {
	return 2*len(source) + 512
}
