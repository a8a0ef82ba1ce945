// Package provider loads the desired schema from YAML model files.
//
// A model file lists top-level documents and embedded documents:
//
//	documents:
//	  Book:
//	    collection: books
//	    fields:
//	      caption: {type: String, db_field: name, required: true}
//	      author: {type: Reference, target: Author}
//	      tags: {type: List, elem: {type: String}}
//	      address: {type: Embedded, target: Address}
//	    indexes:
//	      isbn_1: {keys: [isbn], unique: true}
//	embedded:
//	  Address:
//	    fields:
//	      city: {type: String}
//
// Every field key other than type, target and elem becomes a field
// parameter. Index keys prefixed with "-" are descending.
package provider

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rediwo/redi-migrate/logger"
	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/types"
)

type modelFile struct {
	Documents map[string]documentNode `yaml:"documents"`
	Embedded  map[string]documentNode `yaml:"embedded"`
}

type documentNode struct {
	Collection string                    `yaml:"collection"`
	Parent     string                    `yaml:"parent"`
	Dynamic    bool                      `yaml:"dynamic"`
	Fields     map[string]map[string]any `yaml:"fields"`
	Indexes    map[string]indexNode      `yaml:"indexes"`
}

type indexNode struct {
	Keys   []string `yaml:"keys"`
	Unique bool     `yaml:"unique"`
	Sparse bool     `yaml:"sparse"`
	Text   bool     `yaml:"text"`
}

// Parse builds a schema from one model file.
func Parse(data []byte) (schema.State, error) {
	var f modelFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, types.SchemaErrorf("invalid model file: %v", err)
	}
	s := schema.State{}
	if err := f.addTo(s); err != nil {
		return nil, err
	}
	return s, validate(s)
}

// ParseFile reads and parses a model file.
func ParseFile(filename string) (schema.State, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file %s: %w", filename, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(filename), err)
	}
	return s, nil
}

// LoadPath loads a single model file or every .yaml/.yml file of a
// directory. A document declared twice is an error.
func LoadPath(path string) (schema.State, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("model path not found: %s", path)
	}
	if !info.IsDir() {
		return ParseFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	var files []string
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if !entry.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no model files found in directory: %s", path)
	}
	sort.Strings(files)

	all := schema.State{}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read model file %s: %w", file, err)
		}
		var f modelFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, types.SchemaErrorf("%s: invalid model file: %v", filepath.Base(file), err)
		}
		if err := f.addTo(all); err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(file), err)
		}
	}
	return all, validate(all)
}

// validate fills the collection of derived documents from their root, then
// checks the whole schema.
func validate(s schema.State) error {
	for _, name := range s.Names() {
		doc := s[name]
		if doc.Parent == "" || doc.Collection != "" || schema.IsEmbedded(name) {
			continue
		}
		if root := s[s.Root(name)]; root != nil {
			doc.Collection = root.Collection
		}
	}
	warnings, err := s.Validate()
	for _, w := range warnings {
		logger.Warn("%s", w)
	}
	return err
}

func (f *modelFile) addTo(s schema.State) error {
	embedded := make(map[string]bool, len(f.Embedded))
	for name := range f.Embedded {
		embedded[name] = true
	}
	add := func(name string, node documentNode, isEmbedded bool) error {
		key := name
		if isEmbedded {
			key = schema.EmbeddedPrefix + name
		}
		if _, exists := s[key]; exists {
			return types.SchemaErrorf("duplicate document %q", name)
		}
		doc, err := node.build(embedded, isEmbedded)
		if err != nil {
			return fmt.Errorf("document %s: %w", name, err)
		}
		s[key] = doc
		return nil
	}
	for _, name := range sortedKeys(f.Documents) {
		if err := add(name, f.Documents[name], false); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(f.Embedded) {
		if err := add(name, f.Embedded[name], true); err != nil {
			return err
		}
	}
	return nil
}

func (n documentNode) build(embedded map[string]bool, isEmbedded bool) (*schema.Document, error) {
	if isEmbedded && n.Collection != "" {
		return nil, types.SchemaErrorf("embedded documents have no collection")
	}
	doc := schema.NewDocument(n.Collection)
	doc.Parent = n.Parent
	if isEmbedded && n.Parent != "" && !schema.IsEmbedded(n.Parent) {
		doc.Parent = schema.EmbeddedPrefix + n.Parent
	}
	doc.Dynamic = n.Dynamic
	for name, raw := range n.Fields {
		f, err := buildField(raw, embedded)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		doc.Fields[name] = f
	}
	for name, idx := range n.Indexes {
		if len(idx.Keys) == 0 {
			return nil, types.SchemaErrorf("index %s has no keys", name)
		}
		built := schema.Index{Unique: idx.Unique, Sparse: idx.Sparse, Text: idx.Text}
		for _, k := range idx.Keys {
			if field, ok := strings.CutPrefix(k, "-"); ok {
				built.Keys = append(built.Keys, schema.Desc(field))
			} else {
				built.Keys = append(built.Keys, schema.Asc(k))
			}
		}
		doc.Indexes[name] = built
	}
	return doc, nil
}

func buildField(raw map[string]any, embedded map[string]bool) (schema.Field, error) {
	typeName, _ := raw["type"].(string)
	key := schema.TypeKey(typeName)
	if !key.Valid() {
		return schema.Field{}, types.SchemaErrorf("unknown type %q", typeName)
	}
	f := schema.Field{TypeKey: key}

	if target, ok := raw["target"].(string); ok {
		if key == schema.TypeEmbedded && embedded[target] {
			target = schema.EmbeddedPrefix + target
		}
		f.Target = target
	}
	if key.Targeted() && f.Target == "" {
		return schema.Field{}, types.SchemaErrorf("%s field needs a target", key)
	}
	if elem, ok := raw["elem"]; ok {
		m, ok := elem.(map[string]any)
		if !ok {
			return schema.Field{}, types.SchemaErrorf("elem must be a mapping")
		}
		e, err := buildField(m, embedded)
		if err != nil {
			return schema.Field{}, fmt.Errorf("elem: %w", err)
		}
		f.Elem = &e
	} else if key.Container() {
		return schema.Field{}, types.SchemaErrorf("%s field needs an elem", key)
	}

	for k, v := range raw {
		switch k {
		case "type", "target", "elem":
			continue
		}
		f = f.WithParam(k, schema.NormalizeValue(v))
	}
	return f, nil
}

func sortedKeys(m map[string]documentNode) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
