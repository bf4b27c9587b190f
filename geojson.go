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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
)

// featureCollection is a GeoJSON FeatureCollection. Geometries are kept
// raw and decoded with the geom geojson package.
type featureCollection struct {
	Type     string          `json:"type"`
	CRS      json.RawMessage `json:"crs,omitempty"`
	Features []feature       `json:"features"`
}

type feature struct {
	Type       string                 `json:"type"`
	Geometry   json.RawMessage        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

func decodeFeatureCollection(b []byte) (*featureCollection, error) {
	fc := new(featureCollection)
	if err := json.Unmarshal(b, fc); err != nil {
		return nil, fmt.Errorf("decoding GeoJSON: %v", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("GeoJSON type is %q, not FeatureCollection", fc.Type)
	}
	return fc, nil
}

func (f feature) geometry() (geom.Geom, error) {
	if len(f.Geometry) == 0 || string(f.Geometry) == "null" {
		return nil, fmt.Errorf("missing geometry")
	}
	return geojson.Decode(f.Geometry)
}

// geoJSONSpatialRef returns the spatial reference definition for the
// given GeoJSON crs member. GeoJSON without a crs member is WGS84
// longitude/latitude. Named references other than WGS84 are
// reported as unknown.
func geoJSONSpatialRef(crs json.RawMessage) string {
	if len(crs) == 0 || string(crs) == "null" {
		return wgs84
	}
	var c struct {
		Type       string `json:"type"`
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(crs, &c); err != nil {
		return ""
	}
	name := strings.ToUpper(c.Properties.Name)
	if strings.HasSuffix(name, "CRS84") || strings.HasSuffix(name, ":4326") {
		return wgs84
	}
	return ""
}

// newPointFeature creates a GeoJSON feature holding point p.
func newPointFeature(p geom.Point, props map[string]interface{}) (feature, error) {
	g, err := geojson.Encode(p)
	if err != nil {
		return feature{}, err
	}
	return feature{Type: "Feature", Geometry: g, Properties: props}, nil
}
