package sink

import (
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gpkgsink/pkg/feedback"
	"github.com/ajitpratap0/gpkgsink/pkg/metrics"
)

const (
	parentIDKey         = "parentId"
	parentTypeKey       = "parentType"
	genericAttributeKey = "genericAttribute"

	buildingTable  = "bldg:Building"
	waterBodyTable = "wtr:WaterBody"
	roadTable      = "tran:Road"

	buildingRiskPrefix  = "buildingDisasterRiskAttribute"
	waterBodyRiskPrefix = "floodingRiskAttribute"
)

// Detail types whose attributes keep their own names when a category
// table exists.
var exemptFromRenaming = map[string]struct{}{
	"uro:BuildingIDAttribute":      {},
	"uro:DataQualityAttribute":     {},
	"uro:BuildingDetailAttribute":  {},
	"uro:WaterBodyDetailAttribute": {},
	"uro:RoadStructureAttribute":   {},
}

var riskAttributes = map[string]struct{}{
	"InlandFloodingRiskAttribute":    {},
	"HighTideRiskAttribute":          {},
	"LandSlideRiskAttribute":         {},
	"ReservoirFloodingRiskAttribute": {},
	"RiverFloodingRiskAttribute":     {},
	"TsunamiRiskAttribute":           {},
}

// category is the main feature family present in the run.
type category string

const (
	categoryNone      category = ""
	categoryBuilding  category = "Building"
	categoryWaterBody category = "WaterBody"
	categoryRoad      category = "Road"
)

func categoryOf(reg *Registry) category {
	switch {
	case reg.IsCreated(buildingTable):
		return categoryBuilding
	case reg.IsCreated(waterBodyTable):
		return categoryWaterBody
	case reg.IsCreated(roadTable):
		return categoryRoad
	default:
		return categoryNone
	}
}

// shouldRename reports whether the attributes of a detail type get
// qualified names.
func shouldRename(cat category, table string) bool {
	if cat == categoryNone {
		return true
	}
	_, exempt := exemptFromRenaming[table]
	return !exempt
}

// shortName is the part of a type name after its namespace prefix.
func shortName(table string) string {
	if i := strings.LastIndexByte(table, ':'); i >= 0 {
		return table[i+1:]
	}
	return table
}

// renameAttributes qualifies every key of attrs with the detail type name,
// and for disaster risk types with the owning feature family. Key order is
// preserved.
func renameAttributes(attrs *Attributes, table string, reg *Registry) *Attributes {
	name := shortName(table)
	prefix := ""
	if _, risk := riskAttributes[name]; risk {
		switch {
		case reg.IsCreated(buildingTable):
			prefix, name = buildingRiskPrefix, "Building"+name
		case reg.IsCreated(waterBodyTable):
			prefix, name = waterBodyRiskPrefix, "WaterBody"+name
		}
	}

	out := NewAttributes(attrs.Len())
	attrs.Range(func(k, v string) bool {
		if prefix == "" {
			out.Set(name+"|"+k, v)
		} else {
			out.Set(prefix+"|"+name+"|"+k, v)
		}
		return true
	})
	return out
}

// normalizeValue unwraps a JSON array holding exactly one string. Any
// other value, including a single null, number or boolean, is kept as is.
func normalizeValue(v string) string {
	trimmed := strings.TrimLeft(v, " \t\r\n")
	if len(trimmed) < 2 || trimmed[0] != '[' {
		return v
	}
	var arr []any
	if err := json.Unmarshal([]byte(trimmed), &arr); err != nil || len(arr) != 1 {
		return v
	}
	s, ok := arr[0].(string)
	if !ok {
		return v
	}
	return s
}

func normalizeAll(attrs *Attributes) {
	for _, k := range attrs.Keys() {
		v := attrs.values[k]
		attrs.values[k] = normalizeValue(v)
	}
}

// flattenGenericAttribute replaces the genericAttribute entry, when it holds
// a JSON object, by the object's fields other than "type". String fields are
// stored bare, other fields as JSON text. Fields are added in key order and
// replace existing values.
func flattenGenericAttribute(attrs *Attributes) {
	raw, ok := attrs.Delete(genericAttributeKey)
	if !ok {
		return
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return
	}
	delete(obj, "type")

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		field := obj[k]
		if len(field) > 0 && field[0] == '"' {
			var s string
			if err := json.Unmarshal(field, &s); err == nil {
				attrs.Set(k, s)
				continue
			}
		}
		attrs.Set(k, string(field))
	}
}

// mergeResult is the outcome of the merge stage.
type mergeResult struct {
	features   []*FeatureData
	bboxes     *bboxAggregator
	misses     int
	duplicates int
	merged     int
}

// mergeRecords folds attribute records into their parent features.
// records is reordered in place so that every feature precedes every
// attribute record.
func mergeRecords(records []tableRecord, reg *Registry, fb *feedback.Feedback) *mergeResult {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].record.isFeature() && !records[j].record.isFeature()
	})

	res := &mergeResult{bboxes: newBboxAggregator()}
	index := make(map[string]int)
	cat := categoryOf(reg)

	for _, tr := range records {
		switch rec := tr.record.(type) {
		case *FeatureRecord:
			res.bboxes.add(tr.table, rec.Bbox)

			normalizeAll(rec.Attributes)
			flattenGenericAttribute(rec.Attributes)

			fd := &FeatureData{
				ObjID:      rec.ObjID,
				TableName:  tr.table,
				Geometry:   rec.Geometry,
				Attributes: rec.Attributes,
			}
			if i, dup := index[rec.ObjID]; dup {
				res.duplicates++
				fb.Warn("duplicate object id replaces earlier feature",
					zap.String("object_id", rec.ObjID),
					zap.String("table", tr.table))
				res.features[i] = fd
				continue
			}
			index[rec.ObjID] = len(res.features)
			res.features = append(res.features, fd)

		case *AttributeRecord:
			parentID, ok := rec.Attributes.Get(parentIDKey)
			i, found := index[parentID]
			if !ok || !found {
				res.misses++
				continue
			}
			feature := res.features[i]

			attrs := rec.Attributes
			attrs.Delete(parentIDKey)
			attrs.Delete(parentTypeKey)

			if shouldRename(cat, tr.table) {
				attrs = renameAttributes(attrs, tr.table, reg)
			}
			normalizeAll(attrs)

			attrs.Range(func(k, v string) bool {
				feature.Attributes.SetIfAbsent(k, v)
				return true
			})
			res.merged++
		}
	}

	if res.misses > 0 {
		metrics.MergeMisses.Add(float64(res.misses))
		metrics.RecordsDropped.WithLabelValues(metrics.DropMergeMiss).Add(float64(res.misses))
		fb.Warn("attribute records without a matching feature were dropped",
			zap.Int("count", res.misses))
	}
	return res
}

// logBuffered reports how many records the merge holds and the resident
// memory of the process at that point.
func logBuffered(logger *zap.Logger, records int) {
	fields := []zap.Field{zap.Int("records", records)}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			fields = append(fields, zap.Uint64("rss_bytes", mem.RSS))
		}
	}
	logger.Info("records buffered for merge", fields...)
}
