package entity

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// TypeKind tells whether a schema type becomes a feature table.
type TypeKind string

const (
	TypeKindFeature  TypeKind = "feature"
	TypeKindData     TypeKind = "data"
	TypeKindProperty TypeKind = "property"
)

// AttrDef declares one attribute of a type.
type AttrDef struct {
	Name string `json:"name"`
	// Type is a scalar type name such as string, integer, double or boolean
	Type string `json:"type"`
}

// TypeDef declares one type of the upstream schema.
type TypeDef struct {
	Name       string    `json:"name"`
	Kind       TypeKind  `json:"kind"`
	Attributes []AttrDef `json:"attributes"`
}

// Schema describes every type the upstream stage can emit.
type Schema struct {
	// EPSG is the spatial reference of all coordinates; 0 when unknown
	EPSG  int32     `json:"epsg"`
	Types []TypeDef `json:"types"`
}

// Validate checks that type names are present and unique.
func (s *Schema) Validate() error {
	seen := make(map[string]struct{}, len(s.Types))
	for _, td := range s.Types {
		if td.Name == "" {
			return fmt.Errorf("schema type without name")
		}
		if _, dup := seen[td.Name]; dup {
			return fmt.Errorf("duplicate schema type %q", td.Name)
		}
		seen[td.Name] = struct{}{}
		switch td.Kind {
		case TypeKindFeature, TypeKindData, TypeKindProperty:
		default:
			return fmt.Errorf("type %q has unknown kind %q", td.Name, td.Kind)
		}
	}
	return nil
}

// LoadSchema reads a JSON schema file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
