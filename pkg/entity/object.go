// Package entity defines the parsed feature entities consumed by the sink:
// attribute trees, stereotypes and the shared geometry store.
package entity

import (
	"fmt"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/gpkgsink/pkg/geometry"
)

// StereotypeKind classifies an object.
type StereotypeKind string

const (
	// StereotypeFeature is a top-level feature carrying geometry
	StereotypeFeature StereotypeKind = "feature"
	// StereotypeData is a detail record attached to a feature through parentId
	StereotypeData StereotypeKind = "data"
	// StereotypeObject is a plain nested object
	StereotypeObject StereotypeKind = "object"
)

// Stereotype tells features, data records and plain objects apart.
type Stereotype struct {
	Kind       StereotypeKind `json:"kind"`
	ID         string         `json:"id,omitempty"`
	Geometries []geometry.Ref `json:"geometries,omitempty"`
}

// Attribute is one named value of an object. Order is significant.
type Attribute struct {
	Name  string
	Value Value
}

// Object is a typed node with an ordered attribute bag.
type Object struct {
	TypeName   string
	Stereotype Stereotype
	Attributes []Attribute
}

// Get returns the first attribute called name.
func (o *Object) Get(name string) (Value, bool) {
	for _, a := range o.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return Value{}, false
}

type objectJSON struct {
	Type       string           `json:"type"`
	Stereotype *Stereotype      `json:"stereotype,omitempty"`
	Attributes map[string]Value `json:"attributes"`
}

// UnmarshalJSON decodes the dump form
// {"type": ..., "stereotype": {...}, "attributes": {...}}. Attribute order is
// not carried by JSON objects, so attributes are sorted by name.
func (o *Object) UnmarshalJSON(data []byte) error {
	var raw objectJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	o.TypeName = raw.Type
	o.Stereotype = Stereotype{Kind: StereotypeObject}
	if raw.Stereotype != nil {
		o.Stereotype = *raw.Stereotype
	}
	switch o.Stereotype.Kind {
	case StereotypeFeature, StereotypeData, StereotypeObject:
	case "":
		o.Stereotype.Kind = StereotypeObject
	default:
		return fmt.Errorf("unknown stereotype %q", o.Stereotype.Kind)
	}

	names := make([]string, 0, len(raw.Attributes))
	for name := range raw.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	o.Attributes = make([]Attribute, 0, len(names))
	for _, name := range names {
		o.Attributes = append(o.Attributes, Attribute{Name: name, Value: raw.Attributes[name]})
	}
	return nil
}

// GeometryStore is the vertex buffer and indexed polygon pool shared by an
// entity's geometry refs. Readers hold the read lock while resolving refs.
type GeometryStore struct {
	sync.RWMutex

	EPSG         int32        `json:"epsg"`
	VertexBuffer [][3]float64 `json:"vertices"`
	PolygonPool  [][][]uint32 `json:"multipolygon"`
}

// Vertices implements geometry.Source.
func (s *GeometryStore) Vertices() [][3]float64 { return s.VertexBuffer }

// Polygons implements geometry.Source.
func (s *GeometryStore) Polygons() [][][]uint32 { return s.PolygonPool }

// Entity is one parsed feature or data record handed over by the upstream stage.
type Entity struct {
	Root     Value          `json:"root"`
	Geometry *GeometryStore `json:"geometry"`
}

// Parcel carries an Entity through the upstream channel.
type Parcel struct {
	Entity *Entity
}
