package schema

// FieldBuilder assembles a Field fluently.
type FieldBuilder struct {
	field Field
}

func NewField(typeKey TypeKey) *FieldBuilder {
	return &FieldBuilder{field: Field{TypeKey: typeKey}}
}

func StringField() *FieldBuilder  { return NewField(TypeString) }
func IntegerField() *FieldBuilder { return NewField(TypeInteger) }
func FloatField() *FieldBuilder   { return NewField(TypeFloat) }
func BooleanField() *FieldBuilder { return NewField(TypeBoolean) }

func ReferenceField(target string) *FieldBuilder {
	return &FieldBuilder{field: Field{TypeKey: TypeReference, Target: target}}
}

func EmbeddedField(target string) *FieldBuilder {
	return &FieldBuilder{field: Field{TypeKey: TypeEmbedded, Target: target}}
}

func ListField(elem *FieldBuilder) *FieldBuilder {
	e := elem.Build()
	return &FieldBuilder{field: Field{TypeKey: TypeList, Elem: &e}}
}

func DictField(elem *FieldBuilder) *FieldBuilder {
	e := elem.Build()
	return &FieldBuilder{field: Field{TypeKey: TypeDict, Elem: &e}}
}

func (fb *FieldBuilder) Param(name string, value any) *FieldBuilder {
	fb.field = fb.field.WithParam(name, value)
	return fb
}

func (fb *FieldBuilder) Required() *FieldBuilder { return fb.Param(ParamRequired, true) }

func (fb *FieldBuilder) Default(value any) *FieldBuilder { return fb.Param(ParamDefault, value) }

func (fb *FieldBuilder) DBField(name string) *FieldBuilder { return fb.Param(ParamDBField, name) }

func (fb *FieldBuilder) MaxLength(n int) *FieldBuilder { return fb.Param(ParamMaxLength, int64(n)) }

func (fb *FieldBuilder) Choices(values ...any) *FieldBuilder {
	return fb.Param(ParamChoices, append([]any(nil), values...))
}

func (fb *FieldBuilder) Build() Field { return fb.field }

// DocumentBuilder assembles a Document fluently.
type DocumentBuilder struct {
	doc *Document
}

func NewDocumentBuilder(collection string) *DocumentBuilder {
	return &DocumentBuilder{doc: NewDocument(collection)}
}

// Embedded starts an embedded document, which has no collection.
func Embedded() *DocumentBuilder { return NewDocumentBuilder("") }

func (db *DocumentBuilder) Parent(name string) *DocumentBuilder {
	db.doc.Parent = name
	return db
}

func (db *DocumentBuilder) Dynamic() *DocumentBuilder {
	db.doc.Dynamic = true
	return db
}

func (db *DocumentBuilder) Field(name string, fb *FieldBuilder) *DocumentBuilder {
	db.doc.Fields[name] = fb.Build()
	return db
}

func (db *DocumentBuilder) Index(name string, idx Index) *DocumentBuilder {
	db.doc.Indexes[name] = idx
	return db
}

func (db *DocumentBuilder) Build() *Document { return db.doc }

// Asc and Desc build single-key index components.
func Asc(field string) IndexKey  { return IndexKey{Field: field, Direction: 1} }
func Desc(field string) IndexKey { return IndexKey{Field: field, Direction: -1} }
