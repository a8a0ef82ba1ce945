package action

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/script"
	"github.com/rediwo/redi-migrate/types"
	"github.com/rediwo/redi-migrate/updater"
)

// HandleFunc transforms one record in place and reports whether it changed.
type HandleFunc func(ctx context.Context, rec updater.Record, doc bson.M) (bool, error)

var (
	handles   = map[string]HandleFunc{}
	handlesMu sync.RWMutex
)

// RegisterHandle makes a Go function available to RunCustom under name.
func RegisterHandle(name string, fn HandleFunc) {
	handlesMu.Lock()
	defer handlesMu.Unlock()
	handles[name] = fn
}

func lookupHandle(name string) (HandleFunc, bool) {
	handlesMu.RLock()
	defer handlesMu.RUnlock()
	fn, ok := handles[name]
	return fn, ok
}

// RunCustom runs user code over every record of a document. Each handle is
// either the name of a registered Go function or inline JavaScript. At least
// one direction must be present.
type RunCustom struct {
	base
	Forward  string
	Backward string
}

func NewRunCustom(doc, forward, backward string) *RunCustom {
	return &RunCustom{base: newBase(KindRunCustom, doc), Forward: forward, Backward: backward}
}

func (a *RunCustom) Kind() Kind { return KindRunCustom }

func (a *RunCustom) Inverse() (Action, error) {
	return a.inherit(NewRunCustom(a.doc, a.Backward, a.Forward)), nil
}

func (a *RunCustom) ApplyToSchema(s schema.State) error {
	if a.Forward == "" && a.Backward == "" {
		return types.SchemaErrorf("RunCustom on %s needs a forward or a backward handle", a.doc)
	}
	if _, ok := s[a.doc]; !ok {
		return types.SchemaErrorf("document %s does not exist", a.doc)
	}
	return nil
}

func (a *RunCustom) ApplyToStorage(ctx context.Context, ec *ExecContext) error {
	if a.Forward == "" {
		ec.log().Info("RunCustom on %s has nothing to run in this direction", a.doc)
		return nil
	}
	fn, err := a.resolve(ec)
	if err != nil {
		return err
	}
	op := updater.Operation{
		Name: fmt.Sprintf("custom on %s", a.doc),
		Record: func(rec updater.Record, doc bson.M) (bool, error) {
			changed, err := fn(ctx, rec, doc)
			if err != nil {
				return false, types.WrapActionError(err, "%s: record %v", rec.Collection, rec.ID)
			}
			return changed, nil
		},
	}
	return ec.Run(ctx, updater.Targets(ec.Schema, a.doc), op)
}

func (a *RunCustom) resolve(ec *ExecContext) (HandleFunc, error) {
	if fn, ok := lookupHandle(a.Forward); ok {
		return fn, nil
	}
	if !script.IsScript(a.Forward) {
		return nil, types.SchemaErrorf("RunCustom on %s: unknown handle %q", a.doc, a.Forward)
	}
	compiled, err := ec.scripts().Compile(a.Forward)
	if err != nil {
		return nil, types.WrapActionError(err, "RunCustom on %s", a.doc)
	}
	return func(_ context.Context, _ updater.Record, doc bson.M) (bool, error) {
		out, ok, err := compiled.Call(doc)
		if err != nil || !ok {
			return false, err
		}
		if schema.ValuesEqual(out, doc) {
			return false, nil
		}
		for k := range doc {
			delete(doc, k)
		}
		for k, v := range out {
			doc[k] = v
		}
		return true, nil
	}, nil
}

func (a *RunCustom) Spec() Spec {
	s := a.spec(KindRunCustom, a.doc)
	if a.Forward != "" {
		s.Params["forward"] = a.Forward
	}
	if a.Backward != "" {
		s.Params["backward"] = a.Backward
	}
	return s
}

func decodeRunCustom(s Spec) (Action, error) {
	doc, err := s.argString(0, "document")
	if err != nil {
		return nil, err
	}
	forward, err := s.paramString("forward")
	if err != nil {
		return nil, err
	}
	backward, err := s.paramString("backward")
	if err != nil {
		return nil, err
	}
	if forward == "" && backward == "" {
		return nil, types.SchemaErrorf("RunCustom on %s needs a forward or a backward handle", doc)
	}
	return NewRunCustom(doc, forward, backward), nil
}
