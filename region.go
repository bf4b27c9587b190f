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
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/geom/proj"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// wgs84 is the spatial reference assumed for GeoJSON files that do not
// name one.
const wgs84 = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["Degree",0.017453292519943295]]`

// Region is an administrative polygon with the statistics that will be
// allocated among the sample points that fall inside it.
type Region struct {
	geom.Polygonal

	Code string
	Name string

	// Attributes holds the region statistics, for example
	// "total" -> 2114150.
	Attributes map[string]float64

	// order is the position of the region in the input file.
	order int
}

// SpatialRef describes the coordinate reference system of a RegionSet.
type SpatialRef struct {
	// Def is a WKT or Proj4 definition that can be read by proj.Parse.
	// It is empty if the reference system is unknown.
	Def string

	// GeoJSONCRS holds the crs member of the input GeoJSON file, if
	// there was one, so it can be copied to the output.
	GeoJSONCRS json.RawMessage
}

// SR parses the spatial reference definition.
func (s SpatialRef) SR() (*proj.SR, error) {
	if s.Def == "" {
		return nil, fmt.Errorf("unknown spatial reference")
	}
	return proj.Parse(s.Def)
}

// RegionSet is an ordered, indexed collection of regions with unique codes.
type RegionSet struct {
	// Attributes are the names of the statistics every region carries.
	Attributes []string

	SpatialRef SpatialRef

	// Duplicates lists the codes that appeared more than once in the
	// input. Only the last region with each code is kept.
	Duplicates []string

	regions []*Region
	byCode  map[string]*Region
	index   *rtree.Rtree
	bounds  *geom.Bounds
}

// NewRegionSet creates a new RegionSet from regions, which must all carry
// each of the named attributes. When two regions share a code the later
// one is kept, in its own position.
func NewRegionSet(attributes []string, sr SpatialRef, regions ...*Region) (*RegionSet, error) {
	if len(attributes) == 0 {
		return nil, fmt.Errorf("no region attributes specified")
	}
	s := &RegionSet{
		Attributes: append([]string{}, attributes...),
		SpatialRef: sr,
		byCode:     make(map[string]*Region),
		index:      rtree.NewTree(25, 50),
		bounds:     geom.NewBounds(),
	}
	for i, r := range regions {
		if err := checkRegion(r, attributes); err != nil {
			return nil, fmt.Errorf("region %d: %w", i, err)
		}
		r.order = i
		if _, ok := s.byCode[r.Code]; ok {
			s.Duplicates = append(s.Duplicates, r.Code)
		}
		s.byCode[r.Code] = r
	}
	for _, r := range regions {
		if s.byCode[r.Code] != r {
			continue
		}
		s.regions = append(s.regions, r)
		s.index.Insert(r)
		s.bounds.Extend(r.Bounds())
	}
	return s, nil
}

func checkRegion(r *Region, attributes []string) error {
	if r == nil || r.Polygonal == nil {
		return fmt.Errorf("missing geometry")
	}
	if len(r.Polygons()) == 0 {
		return fmt.Errorf("empty geometry")
	}
	if r.Code == "" {
		return fmt.Errorf("missing code")
	}
	for _, a := range attributes {
		v, ok := r.Attributes[a]
		if !ok {
			return fmt.Errorf("region %s is missing attribute %q", r.Code, a)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("region %s has invalid value %g for attribute %q; values must be finite and non-negative", r.Code, v, a)
		}
	}
	return nil
}

// Len returns the number of regions in the set.
func (s *RegionSet) Len() int { return len(s.regions) }

// Regions returns the regions in input order.
func (s *RegionSet) Regions() []*Region { return s.regions }

// Get returns the region with the given code.
func (s *RegionSet) Get(code string) (*Region, bool) {
	r, ok := s.byCode[code]
	return r, ok
}

// Bounds returns the bounding box of all the regions.
func (s *RegionSet) Bounds() *geom.Bounds { return s.bounds.Copy() }

// candidates returns the regions whose bounding boxes intersect b,
// in input order.
func (s *RegionSet) candidates(b *geom.Bounds) []*Region {
	var o []*Region
	for _, rI := range s.index.SearchIntersect(b) {
		o = append(o, rI.(*Region))
	}
	sort.Slice(o, func(i, j int) bool { return o[i].order < o[j].order })
	return o
}

// LoadError is returned when a region file is missing, malformed, or
// lacks the expected fields.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading regions from %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RegionConfig specifies how regions are read from a file.
type RegionConfig struct {
	CodeColumn string   // Field holding the unique region code
	NameColumn string   // Field holding the region name; may be empty
	Attributes []string // Fields holding the statistics to allocate

	// TargetProj, if set, is the Proj4 or WKT spatial reference that
	// the regions are transformed into after loading.
	TargetProj string
}

// DefaultRegionConfig returns the column layout of the département
// statistics the tool was first written for.
func DefaultRegionConfig() RegionConfig {
	return RegionConfig{
		CodeColumn: "code",
		NameColumn: "department",
		Attributes: []string{"agriculture", "industry", "services", "total"},
	}
}

// LoadRegions reads regions from a GeoJSON FeatureCollection
// (.geojson or .json) or an ESRI shapefile (.shp). Any problem with the
// file is returned as a *LoadError and no regions are returned.
func (c *RegionConfig) LoadRegions(path string) (*RegionSet, error) {
	if c.CodeColumn == "" {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("no code column specified")}
	}
	if len(c.Attributes) == 0 {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("no attribute columns specified")}
	}
	var (
		regions []*Region
		sr      SpatialRef
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		regions, sr, err = c.loadGeoJSON(path)
	case ".shp":
		regions, sr, err = c.loadShapefile(path)
	default:
		err = fmt.Errorf("unsupported file type %q; use .geojson, .json, or .shp", filepath.Ext(path))
	}
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	if len(regions) == 0 {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("file contains no regions")}
	}
	if c.TargetProj != "" {
		if regions, sr, err = reproject(regions, sr, c.TargetProj); err != nil {
			return nil, &LoadError{Path: path, Err: err}
		}
	}
	s, err := NewRegionSet(c.Attributes, sr, regions...)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return s, nil
}

// Load returns a stage that loads the regions in path into the domain.
func (c *RegionConfig) Load(path string) Stage {
	return func(d *Domain) error {
		s, err := c.LoadRegions(path)
		if err != nil {
			return err
		}
		for _, code := range s.Duplicates {
			d.Log.WithField("code", code).Warn("duplicate region code; keeping the last one")
		}
		d.Log.WithFields(logrus.Fields{
			"file":    path,
			"regions": s.Len(),
		}).Info("loaded regions")
		return UseRegions(s)(d)
	}
}

func (c *RegionConfig) loadGeoJSON(path string) ([]*Region, SpatialRef, error) {
	var sr SpatialRef
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, sr, err
	}
	fc, err := decodeFeatureCollection(b)
	if err != nil {
		return nil, sr, err
	}
	sr.GeoJSONCRS = fc.CRS
	sr.Def = geoJSONSpatialRef(fc.CRS)

	regions := make([]*Region, len(fc.Features))
	for i, f := range fc.Features {
		g, err := f.geometry()
		if err != nil {
			return nil, sr, fmt.Errorf("feature %d: %w", i, err)
		}
		pg, ok := g.(geom.Polygonal)
		if !ok {
			return nil, sr, fmt.Errorf("feature %d: geometry type %T is not polygonal", i, g)
		}
		r := &Region{Polygonal: pg, Attributes: make(map[string]float64)}
		code, ok := f.Properties[c.CodeColumn]
		if !ok || code == nil {
			return nil, sr, fmt.Errorf("feature %d: missing field %q", i, c.CodeColumn)
		}
		if r.Code, err = cast.ToStringE(code); err != nil {
			return nil, sr, fmt.Errorf("feature %d: field %q: %v", i, c.CodeColumn, err)
		}
		if c.NameColumn != "" {
			r.Name = cast.ToString(f.Properties[c.NameColumn])
		}
		for _, a := range c.Attributes {
			v, ok := f.Properties[a]
			if !ok || v == nil {
				return nil, sr, fmt.Errorf("feature %d (%s): missing field %q", i, r.Code, a)
			}
			if r.Attributes[a], err = toFloat(v); err != nil {
				return nil, sr, fmt.Errorf("feature %d (%s): field %q: %v", i, r.Code, a, err)
			}
		}
		regions[i] = r
	}
	return regions, sr, nil
}

func (c *RegionConfig) loadShapefile(path string) ([]*Region, SpatialRef, error) {
	var sr SpatialRef
	if _, err := os.Stat(path); err != nil {
		return nil, sr, err
	}
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, sr, err
	}
	defer dec.Close()

	prj := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
	if b, err := os.ReadFile(prj); err == nil {
		sr.Def = strings.TrimSpace(string(b))
	}

	available := make(map[string]bool)
	for _, f := range dec.Fields() {
		available[strings.ToLower(strings.TrimRight(string(f.Name[:]), "\x00"))] = true
	}
	fields := append([]string{c.CodeColumn}, c.Attributes...)
	for _, f := range fields {
		if !available[strings.ToLower(f)] {
			return nil, sr, fmt.Errorf("missing field %q", f)
		}
	}
	if c.NameColumn != "" && available[strings.ToLower(c.NameColumn)] {
		fields = append(fields, c.NameColumn)
	}

	var regions []*Region
	for {
		g, vals, more := dec.DecodeRowFields(fields...)
		if !more {
			break
		}
		i := len(regions)
		if err := dec.Error(); err != nil {
			return nil, sr, fmt.Errorf("record %d: %v", i, err)
		}
		pg, ok := g.(geom.Polygonal)
		if !ok {
			return nil, sr, fmt.Errorf("record %d: geometry type %T is not polygonal", i, g)
		}
		r := &Region{
			Polygonal:  pg,
			Code:       strings.TrimSpace(vals[c.CodeColumn]),
			Name:       strings.TrimSpace(vals[c.NameColumn]),
			Attributes: make(map[string]float64),
		}
		for _, a := range c.Attributes {
			if r.Attributes[a], err = toFloat(vals[a]); err != nil {
				return nil, sr, fmt.Errorf("record %d (%s): field %q: %v", i, r.Code, a, err)
			}
		}
		regions = append(regions, r)
	}
	if err := dec.Error(); err != nil {
		return nil, sr, err
	}
	return regions, sr, nil
}

// toFloat converts a field value to a float, accepting numbers and
// numeric strings.
func toFloat(v interface{}) (float64, error) {
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
		if v == "" {
			return 0, fmt.Errorf("empty value")
		}
	}
	return cast.ToFloat64E(v)
}

// reproject transforms the region geometries into the target spatial
// reference.
func reproject(regions []*Region, from SpatialRef, target string) ([]*Region, SpatialRef, error) {
	src, err := from.SR()
	if err != nil {
		return nil, from, fmt.Errorf("reprojecting regions: %v", err)
	}
	dst, err := proj.Parse(target)
	if err != nil {
		return nil, from, fmt.Errorf("parsing target projection: %v", err)
	}
	ct, err := src.NewTransform(dst)
	if err != nil {
		return nil, from, fmt.Errorf("reprojecting regions: %v", err)
	}
	for _, r := range regions {
		g, err := r.Polygonal.Transform(ct)
		if err != nil {
			return nil, from, fmt.Errorf("reprojecting region %s: %v", r.Code, err)
		}
		r.Polygonal = g.(geom.Polygonal)
	}
	return regions, SpatialRef{Def: target}, nil
}
