package script

import (
	"fmt"
	"strings"
	"sync"

	js "github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/rediwo/redi-migrate/logger"
)

// Runtime compiles and runs JavaScript record transformations. A goja VM
// is not safe for concurrent use, so calls are serialized.
type Runtime struct {
	vm    *js.Runtime
	mu    sync.Mutex
	cache map[string]js.Callable
}

// NewRuntime creates a VM whose console writes to log.
func NewRuntime(log logger.Logger) *Runtime {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	vm := js.New()
	vm.SetFieldNameMapper(js.UncapFieldNameMapper())

	registry := require.NewRegistry()
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(printer{log}))
	registry.Enable(vm)
	console.Enable(vm)

	return &Runtime{vm: vm, cache: make(map[string]js.Callable)}
}

// IsScript reports whether a handle is inline JavaScript rather than the
// name of a registered function.
func IsScript(handle string) bool {
	h := strings.TrimSpace(handle)
	return strings.HasPrefix(h, "function") || strings.Contains(h, "=>")
}

// Function is a compiled transformation taking a record and returning the
// new record, or null to leave it unchanged.
type Function struct {
	rt  *Runtime
	fn  js.Callable
	src string
}

// Compile evaluates src, which must be a function expression.
func (r *Runtime) Compile(src string) (*Function, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if fn, ok := r.cache[src]; ok {
		return &Function{rt: r, fn: fn, src: src}, nil
	}
	value, err := r.vm.RunString("(" + src + ")")
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}
	fn, ok := js.AssertFunction(value)
	if !ok {
		return nil, fmt.Errorf("script does not evaluate to a function")
	}
	r.cache[src] = fn
	return &Function{rt: r, fn: fn, src: src}, nil
}

// Call runs the function on doc. It returns the replacement record and
// whether the script returned one.
func (f *Function) Call(doc bson.M) (bson.M, bool, error) {
	f.rt.mu.Lock()
	defer f.rt.mu.Unlock()

	result, err := f.fn(js.Undefined(), f.rt.vm.ToValue(toJS(doc)))
	if err != nil {
		return nil, false, fmt.Errorf("script failed: %w", err)
	}
	if js.IsUndefined(result) || js.IsNull(result) {
		return nil, false, nil
	}
	exported, ok := result.Export().(map[string]any)
	if !ok {
		return nil, false, fmt.Errorf("script must return an object, got %s", result.ExportType())
	}
	return fromJS(exported).(bson.M), true, nil
}

// toJS converts BSON containers into plain maps and slices so scripts can
// mutate them naturally.
func toJS(v any) any {
	switch val := v.(type) {
	case bson.M:
		return plainMap(val)
	case map[string]any:
		return plainMap(val)
	case bson.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = toJS(e.Value)
		}
		return m
	case bson.A:
		return plainSlice(val)
	case []any:
		return plainSlice(val)
	}
	return v
}

func plainMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = toJS(v)
	}
	return out
}

func plainSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = toJS(v)
	}
	return out
}

// fromJS converts exported values back into BSON containers.
func fromJS(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(bson.M, len(val))
		for k, item := range val {
			out[k] = fromJS(item)
		}
		return out
	case []any:
		out := make(bson.A, len(val))
		for i, item := range val {
			out[i] = fromJS(item)
		}
		return out
	}
	return v
}

type printer struct{ log logger.Logger }

func (p printer) Log(s string)   { p.log.Info("[script] %s", s) }
func (p printer) Warn(s string)  { p.log.Warn("[script] %s", s) }
func (p printer) Error(s string) { p.log.Error("[script] %s", s) }
