package sink

import (
	"sort"
	"strings"

	"github.com/ajitpratap0/gpkgsink/pkg/config"
)

// FileExt is the extension of every per-type file.
const FileExt = ".gpkg"

// localizedNames maps city model type identifiers to the Japanese display
// names used for output files.
var localizedNames = map[string]string{
	"area:Area":                      "区域",
	"bldg:Building":                  "建築物",
	"brid:Bridge":                    "橋梁",
	"cons:OtherConstruction":         "その他の構造物",
	"dem:ReliefFeature":              "地形",
	"frn:CityFurniture":              "都市設備",
	"gen:GenericCityObject":          "汎用都市オブジェクト",
	"lsld:SedimentDisasterProneArea": "土砂災害警戒区域",
	"luse:LandUse":                   "土地利用",
	"tran:Railway":                   "鉄道",
	"tran:Road":                      "道路",
	"tran:Square":                    "広場",
	"tran:Track":                     "徒歩道",
	"tun:Tunnel":                     "トンネル",
	"ubld:UndergroundBuilding":       "地下街",
	"urf:UseDistrict":                "用途地域",
	"veg:PlantCover":                 "植被",
	"veg:SolitaryVegetationObject":   "単独木",
	"wtr:WaterBody":                  "水部",
	"wwy:Waterway":                   "航路",
}

// NameEntry is one row of the naming table.
type NameEntry struct {
	TypeName string
	Name     string
}

// LocalizedNames returns the naming table sorted by type identifier.
func LocalizedNames() []NameEntry {
	out := make([]NameEntry, 0, len(localizedNames))
	for k, v := range localizedNames {
		out = append(out, NameEntry{TypeName: k, Name: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TypeName < out[j].TypeName })
	return out
}

var plainReplacer = strings.NewReplacer(":", "_", "/", "_", `\`, "_")

// FileStem returns the file name, without extension, used for typeName.
// The localized scheme falls back to the plain one for unmapped types.
func FileStem(typeName, scheme string) string {
	if scheme == config.NamingLocalized {
		if name, ok := localizedNames[typeName]; ok {
			return name
		}
	}
	return plainReplacer.Replace(typeName)
}

// FileName is FileStem plus FileExt.
func FileName(typeName, scheme string) string {
	return FileStem(typeName, scheme) + FileExt
}
