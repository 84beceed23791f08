package gpkg

import (
	"context"
	"database/sql"
	"fmt"
)

var coreSchema = []string{
	`CREATE TABLE IF NOT EXISTS gpkg_spatial_ref_sys (
		srs_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL PRIMARY KEY,
		organization TEXT NOT NULL,
		organization_coordsys_id INTEGER NOT NULL,
		definition TEXT NOT NULL,
		description TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS gpkg_contents (
		table_name TEXT NOT NULL PRIMARY KEY,
		data_type TEXT NOT NULL,
		identifier TEXT UNIQUE,
		description TEXT DEFAULT '',
		last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		min_x DOUBLE,
		min_y DOUBLE,
		max_x DOUBLE,
		max_y DOUBLE,
		srs_id INTEGER,
		CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
	)`,
	`CREATE TABLE IF NOT EXISTS gpkg_geometry_columns (
		table_name TEXT NOT NULL,
		column_name TEXT NOT NULL,
		geometry_type_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL,
		z TINYINT NOT NULL,
		m TINYINT NOT NULL,
		CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
		CONSTRAINT uk_gc_table_name UNIQUE (table_name),
		CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
		CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
	)`,
}

// SpatialRef is a row of gpkg_spatial_ref_sys.
type SpatialRef struct {
	Name         string
	ID           int32
	Organization string
	OrgCoordsys  int32
	Definition   string
	Description  string
}

const wktJGD2011 = `GEOGCS["JGD2011",DATUM["Japanese_Geodetic_Datum_2011",SPHEROID["GRS 1980",6378137,298.257222101,AUTHORITY["EPSG","7019"]],AUTHORITY["EPSG","1128"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","6668"]]`

// defaultSpatialRefs are the rows every GeoPackage must carry.
var defaultSpatialRefs = []SpatialRef{
	{Name: "Undefined cartesian SRS", ID: -1, Organization: "NONE", OrgCoordsys: -1, Definition: "undefined", Description: "undefined cartesian coordinate reference system"},
	{Name: "Undefined geographic SRS", ID: 0, Organization: "NONE", OrgCoordsys: 0, Definition: "undefined", Description: "undefined geographic coordinate reference system"},
	{
		Name: "WGS 84 geodetic", ID: 4326, Organization: "EPSG", OrgCoordsys: 4326,
		Definition:  `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`,
		Description: "longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid",
	},
}

// knownSpatialRefs holds definitions for codes common in Japanese city models.
var knownSpatialRefs = map[int32]SpatialRef{
	6668: {Name: "JGD2011", ID: 6668, Organization: "EPSG", OrgCoordsys: 6668, Definition: wktJGD2011},
	6697: {
		Name: "JGD2011 + JGD2011 (vertical) height", ID: 6697, Organization: "EPSG", OrgCoordsys: 6697,
		Definition: `COMPD_CS["JGD2011 + JGD2011 (vertical) height",` + wktJGD2011 +
			`,VERT_CS["JGD2011 (vertical) height",VERT_DATUM["JGD2011 (vertical)",2005,AUTHORITY["EPSG","1131"]],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["Gravity-related height",UP],AUTHORITY["EPSG","6695"]],AUTHORITY["EPSG","6697"]]`,
	},
}

// SpatialRefFor returns the row to register for an EPSG code.
func SpatialRefFor(epsg int32) SpatialRef {
	for _, srs := range defaultSpatialRefs {
		if srs.ID == epsg {
			return srs
		}
	}
	if srs, ok := knownSpatialRefs[epsg]; ok {
		return srs
	}
	return SpatialRef{
		Name:         fmt.Sprintf("EPSG:%d", epsg),
		ID:           epsg,
		Organization: "EPSG",
		OrgCoordsys:  epsg,
		Definition:   "undefined",
	}
}

func insertSpatialRef(ctx context.Context, tx *sql.Tx, srs SpatialRef) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO gpkg_spatial_ref_sys
			(srs_name, srs_id, organization, organization_coordsys_id, definition, description)
			VALUES (?, ?, ?, ?, ?, ?)`,
		srs.Name, srs.ID, srs.Organization, srs.OrgCoordsys, srs.Definition, srs.Description)
	if err != nil {
		return fmt.Errorf("failed to register srs %d: %w", srs.ID, err)
	}
	return nil
}
