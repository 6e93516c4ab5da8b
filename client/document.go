package client

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/validator"

	"github.com/syssam/gqlcache/graph"
	"github.com/syssam/gqlcache/value"
)

// document is a validated operation prepared for caching: every object
// selection asks for __typename, and every entity selection asks for id.
type document struct {
	text string
	doc  *ast.QueryDocument
	op   *ast.OperationDefinition
}

func parseDocument(query string) (*document, error) {
	doc, err := graph.Parse(query)
	if err != nil {
		return nil, err
	}
	if n := len(doc.Operations); n != 1 {
		return nil, fmt.Errorf("client: document must hold exactly one operation, got %d", n)
	}
	for _, op := range doc.Operations {
		op.SelectionSet = addIdentity(op.SelectionSet, rootType(op), false)
	}
	for _, frag := range doc.Fragments {
		frag.SelectionSet = addIdentity(frag.SelectionSet, frag.TypeCondition, false)
	}

	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)
	// Parse again so the added fields carry their definitions.
	doc, err = graph.Parse(buf.String())
	if err != nil {
		return nil, fmt.Errorf("client: prepare document: %w", err)
	}
	return &document{text: buf.String(), doc: doc, op: doc.Operations[0]}, nil
}

func (d *document) name() string {
	return d.op.Name
}

func (d *document) root() string {
	return rootType(d.op)
}

// variables coerces vars against the operation's variable definitions and
// fills in defaults.
func (d *document) variables(vars map[string]any) (map[string]any, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	coerced, err := validator.VariableValues(graph.Schema(), d.op, vars)
	if err != nil {
		return nil, fmt.Errorf("client: variables of %s: %w", d.name(), err)
	}
	return coerced, nil
}

func rootType(op *ast.OperationDefinition) string {
	if op.Operation == ast.Mutation {
		return graph.TypeMutation
	}
	return graph.TypeQuery
}

// addIdentity adds __typename, and id for entities, to sel and to every
// nested object selection. Root selections are left alone.
func addIdentity(sel ast.SelectionSet, typename string, add bool) ast.SelectionSet {
	for _, s := range sel {
		switch s := s.(type) {
		case *ast.Field:
			if len(s.SelectionSet) > 0 && s.Definition != nil {
				s.SelectionSet = addIdentity(s.SelectionSet, s.Definition.Type.Name(), true)
			}
		case *ast.InlineFragment:
			tc := s.TypeCondition
			if tc == "" {
				tc = typename
			}
			s.SelectionSet = addIdentity(s.SelectionSet, tc, false)
		}
	}
	if !add {
		return sel
	}
	sel = ensureField(sel, value.TypenameField)
	if graph.IsEntity(typename) {
		sel = ensureField(sel, "id")
	}
	return sel
}

func ensureField(sel ast.SelectionSet, name string) ast.SelectionSet {
	for _, s := range sel {
		if f, ok := s.(*ast.Field); ok && f.Name == name && (f.Alias == "" || f.Alias == name) {
			return sel
		}
	}
	return append(sel, &ast.Field{Alias: name, Name: name})
}

// selectedField is one response key of a selection set, with the
// selections of every field merged under that key.
type selectedField struct {
	alias      string
	field      *ast.Field
	selections ast.SelectionSet
}

// collectFields flattens fragments that apply to typename and honours
// @skip and @include.
func collectFields(sel ast.SelectionSet, typename string, vars map[string]any) []selectedField {
	var out []selectedField
	index := make(map[string]int)
	var walk func(ast.SelectionSet)
	walk = func(sel ast.SelectionSet) {
		for _, s := range sel {
			switch s := s.(type) {
			case *ast.Field:
				if !included(s.Directives, vars) {
					continue
				}
				alias := s.Alias
				if alias == "" {
					alias = s.Name
				}
				if i, ok := index[alias]; ok {
					out[i].selections = append(out[i].selections, s.SelectionSet...)
					continue
				}
				index[alias] = len(out)
				out = append(out, selectedField{alias: alias, field: s, selections: slices.Clone(s.SelectionSet)})
			case *ast.InlineFragment:
				if included(s.Directives, vars) && (s.TypeCondition == "" || s.TypeCondition == typename) {
					walk(s.SelectionSet)
				}
			case *ast.FragmentSpread:
				if included(s.Directives, vars) && s.Definition != nil && s.Definition.TypeCondition == typename {
					walk(s.Definition.SelectionSet)
				}
			}
		}
	}
	walk(sel)
	return out
}

func included(dirs ast.DirectiveList, vars map[string]any) bool {
	if d := dirs.ForName("skip"); d != nil {
		if skip, _ := d.ArgumentMap(vars)["if"].(bool); skip {
			return false
		}
	}
	if d := dirs.ForName("include"); d != nil {
		if include, ok := d.ArgumentMap(vars)["if"].(bool); ok && !include {
			return false
		}
	}
	return true
}

// fieldArgs returns the canonical arguments of f: null arguments are
// dropped, IDs become strings and integers become int64. It returns nil for
// a field without arguments.
func fieldArgs(f *ast.Field, vars map[string]any) map[string]any {
	if f.Definition == nil || len(f.Definition.Arguments) == 0 {
		return nil
	}
	raw := f.ArgumentMap(vars)
	args := make(map[string]any, len(raw))
	for _, def := range f.Definition.Arguments {
		v := raw[def.Name]
		if v == nil {
			continue
		}
		if s, ok := value.ScalarOf(v); ok {
			v = s.Interface()
			if def.Type.Name() == "ID" {
				if id, ok := value.AsString(s); ok {
					v = id
				}
			}
		}
		args[def.Name] = v
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

func fieldType(f *ast.Field) string {
	if f.Definition == nil {
		return ""
	}
	return f.Definition.Type.Name()
}
