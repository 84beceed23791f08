package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gpkgsink/pkg/entity"
	"github.com/ajitpratap0/gpkgsink/pkg/geometry"
	"github.com/ajitpratap0/gpkgsink/pkg/testutil"
)

func attrsOf(kv ...string) *Attributes {
	a := NewAttributes(len(kv) / 2)
	for i := 0; i+1 < len(kv); i += 2 {
		a.Set(kv[i], kv[i+1])
	}
	return a
}

func featureRec(table, id string, bbox geometry.Bbox, kv ...string) tableRecord {
	return tableRecord{table: table, record: &FeatureRecord{
		ObjID:      id,
		Geometry:   []byte(id),
		Bbox:       bbox,
		Attributes: attrsOf(kv...),
	}}
}

func dataRec(table, parent string, kv ...string) tableRecord {
	all := append([]string{parentIDKey, parent, parentTypeKey, buildingTable}, kv...)
	return tableRecord{table: table, record: &AttributeRecord{Attributes: attrsOf(all...)}}
}

func unitBox(x, y float64) geometry.Bbox {
	return geometry.Bbox{Min: [3]float64{x, y, 0}, Max: [3]float64{x + 1, y + 1, 1}}
}

func registryWith(tables ...string) *Registry {
	reg := NewRegistry()
	for _, t := range tables {
		reg.MarkCreated(t, nil)
	}
	return reg
}

func pairs(a *Attributes) [][2]string {
	var out [][2]string
	a.Range(func(k, v string) bool {
		out = append(out, [2]string{k, v})
		return true
	})
	return out
}

func TestMergeRecords_FirstWriterWins(t *testing.T) {
	fb, _ := testutil.TestFeedback(t)
	records := []tableRecord{
		dataRec("uro:BuildingDetailAttribute", "b1", "height", "20", "usage", "office"),
		featureRec(buildingTable, "b1", unitBox(0, 0), "height", "10"),
		dataRec("uro:BuildingDetailAttribute", "b1", "usage", "shop", "floors", "3"),
	}

	res := mergeRecords(records, registryWith(buildingTable), fb)

	require.Len(t, res.features, 1)
	assert.Equal(t, [][2]string{
		{"height", "10"},
		{"usage", "office"},
		{"floors", "3"},
	}, pairs(res.features[0].Attributes))
	assert.Equal(t, 2, res.merged)
	assert.Zero(t, res.misses)
}

func TestMergeRecords_Renaming(t *testing.T) {
	tests := []struct {
		name    string
		created []string
		table   string
		want    string
	}{
		{"exempt under building", []string{buildingTable}, "uro:BuildingDetailAttribute", "k"},
		{"id attribute exempt", []string{buildingTable}, "uro:BuildingIDAttribute", "k"},
		{"plain detail under building", []string{buildingTable}, "uro:LargeCustomerFacilityAttribute",
			"LargeCustomerFacilityAttribute|k"},
		{"risk under building", []string{buildingTable, waterBodyTable}, "uro:RiverFloodingRiskAttribute",
			"buildingDisasterRiskAttribute|BuildingRiverFloodingRiskAttribute|k"},
		{"risk under water body", []string{waterBodyTable}, "uro:TsunamiRiskAttribute",
			"floodingRiskAttribute|WaterBodyTsunamiRiskAttribute|k"},
		{"risk under road", []string{roadTable}, "uro:TsunamiRiskAttribute", "TsunamiRiskAttribute|k"},
		{"exempt under road", []string{roadTable}, "uro:RoadStructureAttribute", "k"},
		{"no category renames exempt types", nil, "uro:BuildingDetailAttribute", "BuildingDetailAttribute|k"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb, _ := testutil.TestFeedback(t)
			records := []tableRecord{
				featureRec(buildingTable, "f1", unitBox(0, 0)),
				dataRec(tt.table, "f1", "k", "v"),
			}
			res := mergeRecords(records, registryWith(tt.created...), fb)
			require.Len(t, res.features, 1)
			assert.Equal(t, [][2]string{{tt.want, "v"}}, pairs(res.features[0].Attributes))
		})
	}
}

func TestRenameAttributes_Deterministic(t *testing.T) {
	reg := registryWith(buildingTable)
	in := attrsOf("z", "1", "a", "2", "m", "3")

	first := renameAttributes(in, "uro:TsunamiRiskAttribute", reg)
	second := renameAttributes(in, "uro:TsunamiRiskAttribute", reg)

	assert.Equal(t, pairs(first), pairs(second))
	assert.Equal(t, []string{
		"buildingDisasterRiskAttribute|BuildingTsunamiRiskAttribute|z",
		"buildingDisasterRiskAttribute|BuildingTsunamiRiskAttribute|a",
		"buildingDisasterRiskAttribute|BuildingTsunamiRiskAttribute|m",
	}, first.Keys())
	assert.Equal(t, []string{"z", "a", "m"}, in.Keys())
}

func TestNormalizeValue(t *testing.T) {
	tests := map[string]string{
		`["a"]`:        "a",
		`["建物"]`:       "建物",
		`["a","b"]`:    `["a","b"]`,
		`[1]`:          `[1]`,
		`[]`:           `[]`,
		`[not json`:    `[not json`,
		`plain`:        `plain`,
		``:             ``,
		`["with \"q"]`: `with "q`,
		`[null]`:       `[null]`,
		`[true]`:       `[true]`,
		`[{"a":"b"}]`:  `[{"a":"b"}]`,
		` ["x"]`:       "x",
		"\n\t[\"y\"]":  "y",
		`[ "z" ]`:      "z",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeValue(in), "input %q", in)
	}
}

func TestMergeRecords_KeepsSingleNullArray(t *testing.T) {
	text, err := entity.Array(entity.Value{Kind: entity.KindNull}).Text()
	require.NoError(t, err)

	fb, _ := testutil.TestFeedback(t)
	res := mergeRecords([]tableRecord{
		featureRec(buildingTable, "b1", unitBox(0, 0), "nothing", text),
	}, registryWith(buildingTable), fb)

	require.Len(t, res.features, 1)
	got, ok := res.features[0].Attributes.Get("nothing")
	require.True(t, ok)
	assert.Equal(t, "[null]", got)
}

func TestMergeRecords_NormalizesFeatureAndAttributeValues(t *testing.T) {
	fb, _ := testutil.TestFeedback(t)
	records := []tableRecord{
		featureRec(buildingTable, "b1", unitBox(0, 0), "usage", `["住宅"]`),
		dataRec("uro:BuildingDetailAttribute", "b1", "codes", `["1"]`, "many", `["1","2"]`),
	}
	res := mergeRecords(records, registryWith(buildingTable), fb)

	require.Len(t, res.features, 1)
	assert.Equal(t, [][2]string{
		{"usage", "住宅"},
		{"codes", "1"},
		{"many", `["1","2"]`},
	}, pairs(res.features[0].Attributes))
}

func TestFlattenGenericAttribute(t *testing.T) {
	attrs := attrsOf(
		"name", "old",
		genericAttributeKey, `{"type":"gen:GenericAttributeSet","name":"new","count":3,"flag":true,"nested":{"a":1},"none":null}`,
		"after", "x",
	)
	flattenGenericAttribute(attrs)

	assert.Equal(t, [][2]string{
		{"name", "new"},
		{"after", "x"},
		{"count", "3"},
		{"flag", "true"},
		{"nested", `{"a":1}`},
		{"none", "null"},
	}, pairs(attrs))
}

func TestFlattenGenericAttribute_NotAnObject(t *testing.T) {
	attrs := attrsOf(genericAttributeKey, `["a"]`, "k", "v")
	flattenGenericAttribute(attrs)
	assert.Equal(t, [][2]string{{"k", "v"}}, pairs(attrs))

	attrs = attrsOf("k", "v")
	flattenGenericAttribute(attrs)
	assert.Equal(t, [][2]string{{"k", "v"}}, pairs(attrs))
}

func TestMergeRecords_CountsMisses(t *testing.T) {
	fb, _ := testutil.TestFeedback(t)
	noParent := tableRecord{table: "uro:BuildingDetailAttribute", record: &AttributeRecord{Attributes: attrsOf("k", "v")}}
	records := []tableRecord{
		featureRec(buildingTable, "b1", unitBox(0, 0)),
		dataRec("uro:BuildingDetailAttribute", "nope", "k", "v"),
		noParent,
		dataRec("uro:BuildingDetailAttribute", "b1", "k", "v"),
	}

	res := mergeRecords(records, registryWith(buildingTable), fb)

	assert.Equal(t, 2, res.misses)
	assert.Equal(t, 1, res.merged)
	assert.Equal(t, int64(1), fb.Warnings(), "misses are reported once")
}

func TestMergeRecords_DuplicateObjectID(t *testing.T) {
	fb, _ := testutil.TestFeedback(t)
	records := []tableRecord{
		featureRec(buildingTable, "b1", unitBox(0, 0), "v", "first"),
		featureRec(buildingTable, "b1", unitBox(3, 3), "v", "second"),
		dataRec("uro:BuildingDetailAttribute", "b1", "k", "v"),
	}

	res := mergeRecords(records, registryWith(buildingTable), fb)

	require.Len(t, res.features, 1)
	assert.Equal(t, 1, res.duplicates)
	assert.Equal(t, [][2]string{{"v", "second"}, {"k", "v"}}, pairs(res.features[0].Attributes))
}

func TestMergeRecords_BboxUnion(t *testing.T) {
	fb, _ := testutil.TestFeedback(t)
	records := []tableRecord{
		featureRec(waterBodyTable, "w1", unitBox(-5, 2)),
		featureRec(buildingTable, "b1", unitBox(0, 0)),
		featureRec(buildingTable, "b2", unitBox(4, -3)),
	}

	res := mergeRecords(records, registryWith(buildingTable, waterBodyTable), fb)

	b, ok := res.bboxes.get(buildingTable)
	require.True(t, ok)
	assert.Equal(t, [3]float64{0, -3, 0}, b.Min)
	assert.Equal(t, [3]float64{5, 1, 1}, b.Max)

	var order []string
	require.NoError(t, res.bboxes.each(func(table string, _ geometry.Bbox) error {
		order = append(order, table)
		return nil
	}))
	assert.Equal(t, []string{waterBodyTable, buildingTable}, order)
}
