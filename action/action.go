package action

import (
	"context"

	"github.com/rediwo/redi-migrate/convert"
	"github.com/rediwo/redi-migrate/logger"
	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/script"
	"github.com/rediwo/redi-migrate/types"
	"github.com/rediwo/redi-migrate/updater"
)

// Kind names an action variant.
type Kind string

const (
	KindCreateDocument Kind = "CreateDocument"
	KindDropDocument   Kind = "DropDocument"
	KindRenameDocument Kind = "RenameDocument"
	KindAlterDocument  Kind = "AlterDocument"
	KindCreateField    Kind = "CreateField"
	KindDropField      Kind = "DropField"
	KindRenameField    Kind = "RenameField"
	KindAlterField     Kind = "AlterField"
	KindCreateIndex    Kind = "CreateIndex"
	KindDropIndex      Kind = "DropIndex"
	KindRenameIndex    Kind = "RenameIndex"
	KindRunCustom      Kind = "RunCustom"
)

// Action is one invertible schema and storage operation.
type Action interface {
	Kind() Kind
	// Document is the document type the action works on.
	Document() string
	// Dummy actions change only the schema.
	Dummy() bool
	SetDummy(bool)
	Priority() int
	SetPriority(int)

	// Inverse returns the action undoing this one. Actions decoded without
	// their previous definition must be prepared first.
	Inverse() (Action, error)
	// Prepare fills in values taken from the schema the action applies to,
	// such as the previous definition of an altered field.
	Prepare(left schema.State) error
	ApplyToSchema(s schema.State) error
	ApplyToStorage(ctx context.Context, ec *ExecContext) error

	// Spec returns the serializable form of the action.
	Spec() Spec
}

// ExecContext is what an action needs at run time. Schema is the state
// before the action is applied.
type ExecContext struct {
	updater.Context
	Schema  schema.State
	Matrix  *convert.Matrix
	Scripts *script.Runtime
}

func (ec *ExecContext) log() logger.Logger {
	if ec.Log == nil {
		return logger.GetGlobalLogger()
	}
	return ec.Log
}

func (ec *ExecContext) matrix() *convert.Matrix {
	if ec.Matrix == nil {
		return convert.Default()
	}
	return ec.Matrix
}

func (ec *ExecContext) converter() *convert.Converter {
	return &convert.Converter{Matrix: ec.matrix(), Policy: ec.Policy}
}

func (ec *ExecContext) scripts() *script.Runtime {
	if ec.Scripts == nil {
		ec.Scripts = script.NewRuntime(ec.log())
	}
	return ec.Scripts
}

// Priority bands. The composite priority of an action is band*100 plus a
// tier that orders embedded documents against top level ones.
const (
	BandRenameDocument = 10
	BandCreateDocument = 20
	BandRenameField    = 30
	BandAlterField     = 40
	BandAlterDocument  = 50
	BandRenameIndex    = 55
	BandDropIndex      = 60
	BandDropField      = 70
	BandCreateField    = 80
	BandCreateIndex    = 90
	BandDropDocument   = 100
	BandRunCustom      = 110
)

// Tier offsets inside a band.
const (
	TierEmbedded = 0
	TierTopLevel = 50
)

var defaultBands = map[Kind]int{
	KindRenameDocument: BandRenameDocument,
	KindCreateDocument: BandCreateDocument,
	KindRenameField:    BandRenameField,
	KindAlterField:     BandAlterField,
	KindAlterDocument:  BandAlterDocument,
	KindRenameIndex:    BandRenameIndex,
	KindDropIndex:      BandDropIndex,
	KindDropField:      BandDropField,
	KindCreateField:    BandCreateField,
	KindCreateIndex:    BandCreateIndex,
	KindDropDocument:   BandDropDocument,
	KindRunCustom:      BandRunCustom,
}

// DefaultPriority is the priority of an action of kind k on a top level document.
func DefaultPriority(k Kind) int {
	return defaultBands[k]*100 + TierTopLevel
}

// ComputePriority places an action on document doc within band. Creations
// handle embedded documents first; drops handle them last.
func ComputePriority(band int, s schema.State, doc string, creating bool) int {
	embedded := schema.IsEmbedded(doc)
	tier := TierTopLevel
	if embedded == creating {
		tier = TierEmbedded
	}
	depth := s.Depth(doc)
	if depth > TierTopLevel-1 {
		depth = TierTopLevel - 1
	}
	if !creating {
		depth = TierTopLevel - 1 - depth
	}
	return band*100 + tier + depth
}

// base holds what every action carries.
type base struct {
	doc   string
	dummy bool
	prio  int
}

func newBase(kind Kind, doc string) base {
	return base{doc: doc, prio: DefaultPriority(kind)}
}

func (b *base) Document() string  { return b.doc }
func (b *base) Dummy() bool       { return b.dummy }
func (b *base) SetDummy(d bool)   { b.dummy = d }
func (b *base) Priority() int     { return b.prio }
func (b *base) SetPriority(p int) { b.prio = p }

func (b *base) Prepare(schema.State) error { return nil }

// inherit copies the flags of b into the inverse action.
func (b *base) inherit(a Action) Action {
	a.SetDummy(b.dummy)
	a.SetPriority(b.prio)
	return a
}

// unprepared reports an inverse requested before Prepare resolved the
// previous definition.
func unprepared(a Action) error {
	return types.SchemaErrorf("cannot invert %s: previous definition unknown until prepared against its schema", Format(a))
}

func (b *base) spec(kind Kind, args ...any) Spec {
	return Spec{Kind: kind, Args: args, Params: map[string]any{}, Dummy: b.dummy, Priority: b.prio}
}
