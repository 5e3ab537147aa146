package scene

import (
	"fmt"
	"os"

	"github.com/agentic-research/hiercache/api"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// DefaultSelector picks the prim tree out of a scene document.
const DefaultSelector = "$.root"

// LoadJSONFile reads a scene document from disk. See LoadJSON.
func LoadJSONFile(path, selector string) (*Stage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene %s: %w", path, err)
	}
	st, err := LoadJSON(data, selector)
	if err != nil {
		return nil, fmt.Errorf("load scene %s: %w", path, err)
	}
	return st, nil
}

// LoadJSON builds a Stage from a JSON scene document. selector is a JSONPath
// expression naming the object whose "children" become the pseudo-root's
// children; it defaults to DefaultSelector. Layer stacks are read from the
// document's top-level "session_layer" and "layers" keys.
func LoadJSON(data []byte, selector string) (*Stage, error) {
	doc, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse scene json: %w", err)
	}
	if selector == "" {
		selector = DefaultSelector
	}
	x, err := jp.ParseString(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", selector, err)
	}
	results := x.Get(doc)
	if len(results) == 0 {
		return nil, fmt.Errorf("selector %s matched nothing", selector)
	}
	root, ok := results[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("selector %s: expected object, got %T", selector, results[0])
	}

	sc := &api.Scene{}
	if top, ok := doc.(map[string]any); ok {
		sc.Version, _ = top["version"].(string)
		if m, ok := top["session_layer"].(map[string]any); ok {
			l := decodeLayer(m)
			sc.SessionLayer = &l
		}
		if m, ok := top["layers"].(map[string]any); ok {
			l := decodeLayer(m)
			sc.Layers = &l
		}
	}
	sc.Root, err = decodePrim(root)
	if err != nil {
		return nil, err
	}
	return FromScene(sc)
}

// FromScene builds a Stage from a decoded scene document.
func FromScene(sc *api.Scene) (*Stage, error) {
	st := NewStage()
	st.SetLayers(sc.SessionLayer, sc.Layers)
	for _, c := range sc.Root.Children {
		if err := definePrimTree(st, RootPath, c); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func definePrimTree(st *Stage, parent Path, p api.Prim) error {
	path, err := st.DefinePrim(parent, p.Name, PrimSpec{
		DisplayName: p.DisplayName,
		Flags:       FlagsOf(p),
		VariantSets: p.VariantSets,
		Selections:  p.Selections,
	})
	if err != nil {
		return err
	}
	for _, c := range p.Children {
		if err := definePrimTree(st, path, c); err != nil {
			return err
		}
	}
	return nil
}

// FlagsOf derives the composed state bits of a document prim.
func FlagsOf(p api.Prim) Flags {
	var f Flags
	switch p.Specifier {
	case "", "def":
		f |= FlagDefined
	case "class":
		f |= FlagDefined | FlagAbstract
	}
	if p.Active == nil || *p.Active {
		f |= FlagActive
	}
	if p.Loaded == nil || *p.Loaded {
		f |= FlagLoaded
	}
	if p.Kind == "model" {
		f |= FlagModel
	}
	if p.Instance {
		f |= FlagInstance
	}
	return f
}

func decodePrim(m map[string]any) (api.Prim, error) {
	var p api.Prim
	p.Name, _ = m["name"].(string)
	p.DisplayName, _ = m["display_name"].(string)
	p.Specifier, _ = m["specifier"].(string)
	p.Kind, _ = m["kind"].(string)
	p.Instance, _ = m["instance"].(bool)
	if v, ok := m["active"].(bool); ok {
		p.Active = &v
	}
	if v, ok := m["loaded"].(bool); ok {
		p.Loaded = &v
	}
	if sel, ok := m["selections"].(map[string]any); ok {
		p.Selections = make(map[string]string, len(sel))
		for k, v := range sel {
			s, ok := v.(string)
			if !ok {
				return p, fmt.Errorf("prim %q: selection %q is %T, want string", p.Name, k, v)
			}
			p.Selections[k] = s
		}
	}
	p.VariantSets = decodeVariantSets(m["variant_sets"])
	children, _ := m["children"].([]any)
	for i, c := range children {
		cm, ok := c.(map[string]any)
		if !ok {
			return p, fmt.Errorf("prim %q: child %d is %T, want object", p.Name, i, c)
		}
		child, err := decodePrim(cm)
		if err != nil {
			return p, err
		}
		p.Children = append(p.Children, child)
	}
	return p, nil
}

func decodeVariantSets(v any) []api.VariantSet {
	list, _ := v.([]any)
	var out []api.VariantSet
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		vs := api.VariantSet{}
		vs.Name, _ = m["name"].(string)
		variants, _ := m["variants"].([]any)
		for _, vv := range variants {
			switch vv := vv.(type) {
			case string:
				vs.Variants = append(vs.Variants, api.Variant{Name: vv})
			case map[string]any:
				variant := api.Variant{}
				variant.Name, _ = vv["name"].(string)
				variant.VariantSets = decodeVariantSets(vv["variant_sets"])
				vs.Variants = append(vs.Variants, variant)
			}
		}
		out = append(out, vs)
	}
	return out
}

func decodeLayer(m map[string]any) api.Layer {
	l := api.Layer{}
	l.Identifier, _ = m["identifier"].(string)
	l.DisplayName, _ = m["display_name"].(string)
	subs, _ := m["sublayers"].([]any)
	for _, s := range subs {
		if sm, ok := s.(map[string]any); ok {
			l.SubLayers = append(l.SubLayers, decodeLayer(sm))
		}
	}
	return l
}
