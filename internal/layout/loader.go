package layout

import (
	"fmt"

	"github.com/spf13/viper"
)

// fileLayout mirrors one entry of the `layouts` list in a layout file.
type fileLayout struct {
	Tag    uint64      `mapstructure:"tag"`
	Name   string      `mapstructure:"name"`
	Bare   bool        `mapstructure:"bare"`
	Fields []fileField `mapstructure:"fields"`
}

// fileField mirrors one field entry of a layout.
type fileField struct {
	Name   string `mapstructure:"name"`
	Offset uint64 `mapstructure:"offset"`
	Kind   string `mapstructure:"kind"`
	Count  int    `mapstructure:"count"`
	Elem   string `mapstructure:"elem"`
}

// Load reads a YAML layout file and populates a fresh registry from it. This
// is the single registration entry point: it runs once per session, before any
// rendering, and the resulting registry is read-only from then on.
//
// Tags are YAML integers (hex literals like 0x1000 work). Field kinds are
// "int", "string", "value", or "array"; array fields also declare "count" and
// an "elem" kind.
func Load(path string) (*Registry, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read layout file: %w", err)
	}

	var defs []fileLayout
	if err := v.UnmarshalKey("layouts", &defs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal layout file: %w", err)
	}

	if len(defs) == 0 {
		return nil, fmt.Errorf("layout file %s declares no layouts", path)
	}

	registry := NewRegistry()
	for _, def := range defs {
		rule, err := def.toRule()
		if err != nil {
			return nil, fmt.Errorf("layout %q: %w", def.Name, err)
		}

		if err := registry.Register(TypeTag(def.Tag), rule); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// toRule converts a file entry to a LayoutRule. Validation proper happens in
// Registry.Register.
func (fl fileLayout) toRule() (*LayoutRule, error) {
	rule := &LayoutRule{
		Name:   fl.Name,
		Bare:   fl.Bare,
		Fields: make([]FieldDescriptor, 0, len(fl.Fields)),
	}

	for i, ff := range fl.Fields {
		kind, err := ParseKind(ff.Kind)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}

		fd := FieldDescriptor{
			Name:   ff.Name,
			Offset: ff.Offset,
			Kind:   kind,
			Count:  ff.Count,
		}

		if kind == KindArray {
			if ff.Elem == "" {
				return nil, fmt.Errorf("field %d: array field needs an elem kind", i)
			}
			elem, err := ParseKind(ff.Elem)
			if err != nil {
				return nil, fmt.Errorf("field %d: %w", i, err)
			}
			fd.Elem = elem
		}

		rule.Fields = append(rule.Fields, fd)
	}

	return rule, nil
}
