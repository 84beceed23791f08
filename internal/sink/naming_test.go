package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/gpkgsink/pkg/config"
)

func TestFileName(t *testing.T) {
	tests := []struct {
		typeName string
		scheme   string
		want     string
	}{
		{"bldg:Building", config.NamingLocalized, "建築物.gpkg"},
		{"wtr:WaterBody", config.NamingLocalized, "水部.gpkg"},
		{"tran:Road", config.NamingLocalized, "道路.gpkg"},
		{"bldg:Building", config.NamingPlain, "bldg_Building.gpkg"},
		{"xyz:Custom", config.NamingLocalized, "xyz_Custom.gpkg"},
		{"a/b:C", config.NamingPlain, "a_b_C.gpkg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FileName(tt.typeName, tt.scheme), tt.typeName)
	}
}

func TestLocalizedNames_Sorted(t *testing.T) {
	names := LocalizedNames()
	assert.Len(t, names, len(localizedNames))
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1].TypeName, names[i].TypeName)
	}
}

func TestUniqueFileName(t *testing.T) {
	m := &tableManager{naming: config.NamingPlain, fileNames: make(map[string]string)}
	assert.Equal(t, "a_b.gpkg", m.uniqueFileName("a:b"))
	assert.Equal(t, "a_b_2.gpkg", m.uniqueFileName("a/b"))
	assert.Equal(t, "a_b_3.gpkg", m.uniqueFileName(`a\b`))
}
