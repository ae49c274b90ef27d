package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// fieldList holds names and values in command-line order.
type fieldList struct {
	names  []string
	values []string
}

func (f *fieldList) add(name, value string) {
	f.names = append(f.names, name)
	f.values = append(f.values, value)
}

// parseFieldFlags splits "name=value" arguments. The value may contain '='.
func parseFieldFlags(args []string, into *fieldList) error {
	for _, a := range args {
		name, value, ok := strings.Cut(a, "=")
		if !ok {
			return fmt.Errorf("--field %q: want name=value", a)
		}
		if name == "" {
			return fmt.Errorf("--field %q: empty name", a)
		}
		into.add(name, value)
	}
	return nil
}

// readFieldsFile loads a flat YAML mapping of field names to scalar values,
// keeping document order. Values are passed on as their literal YAML text so
// the session's inference rule decides their type.
func readFieldsFile(path string, into *fieldList) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("fields file: %w", err)
	}
	return parseFieldsYAML(data, into)
}

func parseFieldsYAML(data []byte, into *fieldList) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("fields file: %w", err)
	}
	if doc.Kind == 0 {
		return nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("fields file: top level must be a mapping")
	}
	m := doc.Content[0]
	for i := 0; i+1 < len(m.Content); i += 2 {
		k, v := m.Content[i], m.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("fields file: line %d: %q must be a scalar", v.Line, k.Value)
		}
		if k.Value == "" {
			return fmt.Errorf("fields file: line %d: empty name", k.Line)
		}
		into.add(k.Value, v.Value)
	}
	return nil
}
