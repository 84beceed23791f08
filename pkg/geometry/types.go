// Package geometry turns indexed multipolygons into GeoPackage geometry
// blobs and tracks their extents.
package geometry

import "fmt"

// Type is the kind of geometry an entity references.
type Type string

const (
	TypeSolid    Type = "Solid"
	TypeSurface  Type = "Surface"
	TypeTriangle Type = "Triangle"
	TypeCurve    Type = "Curve"
	TypePoint    Type = "Point"
)

// IsAreal reports whether the encoder can represent t as polygons.
func (t Type) IsAreal() bool {
	switch t {
	case TypeSolid, TypeSurface, TypeTriangle:
		return true
	}
	return false
}

// Ref points at a contiguous range of polygons in a shared pool.
type Ref struct {
	Type Type   `json:"type"`
	LOD  uint8  `json:"lod"`
	Pos  uint32 `json:"pos"`
	Len  uint32 `json:"len"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s(lod%d)[%d:%d]", r.Type, r.LOD, r.Pos, r.Pos+r.Len)
}

// Source exposes the vertex buffer and the indexed polygon pool that refs
// point into. Each polygon is a list of rings, each ring a list of vertex
// indices; rings are stored open.
type Source interface {
	Vertices() [][3]float64
	Polygons() [][][]uint32
}
