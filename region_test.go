/*
Copyright © 2017 the InMAP authors.
This file is part of dotgrid.

dotgrid is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

dotgrid is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with dotgrid.  If not, see <http://www.gnu.org/licenses/>.
*/

package dotgrid

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	goshp "github.com/jonas-p/go-shp"
	"github.com/kr/pretty"
)

func TestLoadGeoJSON(t *testing.T) {
	cfg := DefaultRegionConfig()
	s, err := cfg.LoadRegions("testdata/regions.geojson")
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, r := range s.Regions() {
		got = append(got, r.Code)
	}
	if diff := pretty.Diff(got, []string{"29", "13", "P", "75"}); len(diff) != 0 {
		t.Errorf("codes: %v", diff)
	}
	r, ok := s.Get("75")
	if !ok {
		t.Fatal("missing region 75")
	}
	if r.Name != "Paris" {
		t.Errorf("name: got %q", r.Name)
	}
	wantAttrs := map[string]float64{"agriculture": 0, "industry": 1500, "services": 20000, "total": 21500}
	if diff := pretty.Diff(r.Attributes, wantAttrs); len(diff) != 0 {
		t.Errorf("attributes: %v", diff)
	}
	wantBounds := &geom.Bounds{Min: geom.Point{X: 0, Y: 0}, Max: geom.Point{X: 10, Y: 10}}
	if diff := pretty.Diff(s.Bounds(), wantBounds); len(diff) != 0 {
		t.Errorf("bounds: %v", diff)
	}
	if s.SpatialRef.Def != wgs84 {
		t.Errorf("spatial reference: got %q", s.SpatialRef.Def)
	}
	if len(s.SpatialRef.GeoJSONCRS) == 0 {
		t.Error("crs member was not kept")
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const testPolygon = `{"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`

func testFeature(props, geometry string) string {
	return `{"type": "Feature", "properties": {` + props + `}, "geometry": ` + geometry + `}`
}

func testCollection(features ...string) string {
	return `{"type": "FeatureCollection", "features": [` + strings.Join(features, ",") + `]}`
}

func TestLoadRegionsErrors(t *testing.T) {
	dir := t.TempDir()
	const okProps = `"code": "A", "department": "a", "agriculture": 1, "industry": 2, "services": 3, "total": 6`
	tests := []struct {
		name    string
		content string
		file    string
	}{
		{name: "malformed", content: `{"type": "FeatureCollection", "features": [`},
		{name: "not a collection", content: `{"type": "Feature"}`},
		{name: "empty", content: testCollection()},
		{name: "point geometry", content: testCollection(testFeature(okProps, `{"type": "Point", "coordinates": [0, 0]}`))},
		{name: "null geometry", content: testCollection(testFeature(okProps, `null`))},
		{name: "missing code", content: testCollection(testFeature(
			`"department": "a", "agriculture": 1, "industry": 2, "services": 3, "total": 6`, testPolygon))},
		{name: "missing attribute", content: testCollection(testFeature(
			`"code": "A", "agriculture": 1, "industry": 2, "services": 3`, testPolygon))},
		{name: "negative", content: testCollection(testFeature(
			`"code": "A", "agriculture": -1, "industry": 2, "services": 3, "total": 6`, testPolygon))},
		{name: "not a number", content: testCollection(testFeature(
			`"code": "A", "agriculture": "many", "industry": 2, "services": 3, "total": 6`, testPolygon))},
		{name: "NaN", content: testCollection(testFeature(
			`"code": "A", "agriculture": "NaN", "industry": 2, "services": 3, "total": 6`, testPolygon))},
		{name: "missing file"},
		{name: "unsupported type", content: "code,total\n", file: "regions.csv"},
	}
	cfg := DefaultRegionConfig()
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			file := test.file
			if file == "" {
				file = strings.Replace(test.name, " ", "_", -1) + ".geojson"
			}
			path := filepath.Join(dir, file)
			if test.content != "" {
				path = writeFile(t, dir, file, test.content)
			}
			s, err := cfg.LoadRegions(path)
			if err == nil {
				t.Fatal("expected an error")
			}
			if s != nil {
				t.Error("regions should not be returned with an error")
			}
			var lerr *LoadError
			if !errors.As(err, &lerr) {
				t.Fatalf("error %v is not a *LoadError", err)
			}
			if lerr.Path != path {
				t.Errorf("path: got %q, want %q", lerr.Path, path)
			}
		})
	}
}

func TestLoadRegionsDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "dup.geojson", testCollection(
		testFeature(`"code": "A", "total": 1`, testPolygon),
		testFeature(`"code": "B", "total": 2`, testPolygon),
		testFeature(`"code": 1, "total": 3`, testPolygon),
		testFeature(`"code": "A", "total": "4"`, testPolygon),
	))
	cfg := RegionConfig{CodeColumn: "code", Attributes: []string{"total"}}
	s, err := cfg.LoadRegions(path)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, r := range s.Regions() {
		got = append(got, r.Code)
	}
	if diff := pretty.Diff(got, []string{"B", "1", "A"}); len(diff) != 0 {
		t.Errorf("codes: %v", diff)
	}
	if diff := pretty.Diff(s.Duplicates, []string{"A"}); len(diff) != 0 {
		t.Errorf("duplicates: %v", diff)
	}
	r, _ := s.Get("A")
	if r.Attributes["total"] != 4 {
		t.Errorf("the last region with a duplicated code should be kept; total is %g", r.Attributes["total"])
	}
}

func TestLoadShapefile(t *testing.T) {
	type regionHolder struct {
		geom.Polygon
		Code        string  `shp:"code"`
		Department  string  `shp:"department"`
		Agriculture float64 `shp:"agricultur"`
		Total       float64 `shp:"total"`
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "regions.shp")
	e, err := shp.NewEncoder(path, regionHolder{})
	if err != nil {
		t.Fatal(err)
	}
	regions := []regionHolder{
		{Polygon: square(0, 0, 1000, 1000), Code: "01", Department: "Ain", Agriculture: 12, Total: 40},
		{Polygon: square(1000, 0, 2000, 1000), Code: "02", Department: "Aisne", Agriculture: 3.5, Total: 10},
	}
	for _, r := range regions {
		if err := e.Encode(r); err != nil {
			t.Fatal(err)
		}
	}
	e.Close()
	const prj = `PROJCS["RGF93_Lambert_93",GEOGCS["GCS_RGF_1993",DATUM["D_RGF_1993",SPHEROID["GRS_1980",6378137.0,298.257222101]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Lambert_Conformal_Conic"],PARAMETER["False_Easting",700000.0],PARAMETER["False_Northing",6600000.0],PARAMETER["Central_Meridian",3.0],PARAMETER["Standard_Parallel_1",44.0],PARAMETER["Standard_Parallel_2",49.0],PARAMETER["Latitude_Of_Origin",46.5],UNIT["Meter",1.0]]`
	writeFile(t, dir, "regions.prj", prj)

	cfg := RegionConfig{
		CodeColumn: "code",
		NameColumn: "department",
		Attributes: []string{"agricultur", "total"},
	}
	s, err := cfg.LoadRegions(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 2 {
		t.Fatalf("got %d regions, want 2", s.Len())
	}
	r, ok := s.Get("02")
	if !ok {
		t.Fatal("missing region 02")
	}
	if r.Name != "Aisne" || r.Attributes["agricultur"] != 3.5 || r.Attributes["total"] != 10 {
		t.Errorf("region 02: %# v", pretty.Formatter(r))
	}
	if s.SpatialRef.Def != prj {
		t.Errorf("spatial reference was not read from the .prj file")
	}

	t.Run("missing field", func(t *testing.T) {
		cfg := DefaultRegionConfig()
		_, err := cfg.LoadRegions(path)
		var lerr *LoadError
		if !errors.As(err, &lerr) {
			t.Fatalf("got error %v, want a *LoadError", err)
		}
	})
}

// A geometry the decoder cannot convert must surface the decoder's error
// rather than a nil geometry.
func TestLoadShapefileUndecodableGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.shp")
	e, err := shp.NewEncoderFromFields(path, goshp.MULTIPATCH,
		goshp.StringField("code", 10), goshp.NumberField("total", 10))
	if err != nil {
		t.Fatal(err)
	}
	pts := []goshp.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 0}}
	e.Write(&goshp.MultiPatch{
		Box:       goshp.BBoxFromPoints(pts),
		NumParts:  1,
		NumPoints: int32(len(pts)),
		Parts:     []int32{0},
		PartTypes: []int32{0},
		Points:    pts,
		ZArray:    make([]float64, len(pts)),
		MArray:    make([]float64, len(pts)),
	})
	if err := e.WriteAttribute(0, 0, "01"); err != nil {
		t.Fatal(err)
	}
	if err := e.WriteAttribute(0, 1, 40); err != nil {
		t.Fatal(err)
	}
	e.Close()

	cfg := RegionConfig{CodeColumn: "code", Attributes: []string{"total"}}
	_, err = cfg.LoadRegions(path)
	var lerr *LoadError
	if !errors.As(err, &lerr) {
		t.Fatalf("got error %v, want a *LoadError", err)
	}
	if msg := err.Error(); strings.Contains(msg, "<nil>") || !strings.Contains(msg, "record 0") {
		t.Errorf("error %q does not report the decoding failure", msg)
	}
}

func TestLoadRegionsReproject(t *testing.T) {
	cfg := DefaultRegionConfig()
	cfg.TargetProj = WebMapProj()
	s, err := cfg.LoadRegions("testdata/regions.geojson")
	if err != nil {
		t.Fatal(err)
	}
	if s.SpatialRef.Def != WebMapProj() {
		t.Errorf("spatial reference: got %q", s.SpatialRef.Def)
	}
	b := s.Bounds()
	// 10 degrees of longitude is about 1113 km in web Mercator.
	if b.Max.X < 1.1e6 || b.Max.X > 1.12e6 {
		t.Errorf("reprojected maximum x is %g", b.Max.X)
	}
}

func TestNewRegionSetErrors(t *testing.T) {
	tests := []struct {
		name string
		r    *Region
	}{
		{name: "nil geometry", r: &Region{Code: "A", Attributes: map[string]float64{"total": 1}}},
		{name: "no code", r: region("", 1, square(0, 0, 1, 1))},
		{name: "negative", r: region("A", -1, square(0, 0, 1, 1))},
		{name: "missing attribute", r: &Region{Polygonal: square(0, 0, 1, 1), Code: "A"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := NewRegionSet([]string{"total"}, SpatialRef{}, test.r); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
