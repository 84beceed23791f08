package sink

import "github.com/ajitpratap0/gpkgsink/pkg/geometry"

// Record is what producers send to the consumer: either a *FeatureRecord or
// an *AttributeRecord.
type Record interface {
	isFeature() bool
}

// FeatureRecord is an encoded feature with its own attributes.
type FeatureRecord struct {
	ObjID      string
	Geometry   []byte
	Bbox       geometry.Bbox
	Attributes *Attributes
}

func (*FeatureRecord) isFeature() bool { return true }

// AttributeRecord is a detail record to be merged into the feature named
// by its parentId attribute.
type AttributeRecord struct {
	Attributes *Attributes
}

func (*AttributeRecord) isFeature() bool { return false }

// tableRecord tags a record with the type name it was classified under.
type tableRecord struct {
	table  string
	record Record
}

// FeatureData is a feature after attribute merging, ready to be inserted.
type FeatureData struct {
	ObjID      string
	TableName  string
	Geometry   []byte
	Attributes *Attributes
}
