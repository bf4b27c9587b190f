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
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/ctessum/geom/encoding/shp"
	goshp "github.com/jonas-p/go-shp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// FractionField is the name of the output field holding each point's
// share of its region's statistics.
const FractionField = "department_fraction"

// shpFractionField is FractionField shortened to fit in a dBASE field name.
const shpFractionField = "dept_frac"

// Widths of the numeric shapefile fields. Attribute and derived values
// are counts, which can run into the billions.
const (
	shpNumberWidth = 20
	shpFloatWidth  = 24
)

// Outputter is a holder for output parameters.
//
// fileName contains the path where the output will be saved. The format
// is chosen from the extension: .geojson or .json for GeoJSON, .shp for a
// shapefile. If fileName is empty no file is written.
//
// outputVariables maps the names of additional output fields to
// expressions that define how they are calculated from the allocated
// statistics and department_fraction, for example
// {"nonagri": "industry + services"}.
type Outputter struct {
	fileName        string
	outputVariables map[string]string
	outputFunctions map[string]govaluate.ExpressionFunction
	expressions     map[string]*govaluate.EvaluableExpression
	names           []string
}

// NewOutputter initializes a new Outputter and adds a set of default
// output functions: 'exp(x)', 'log(x)', and 'sqrt(x)'.
func NewOutputter(fileName string, outputVariables map[string]string, outputFunctions map[string]govaluate.ExpressionFunction) (*Outputter, error) {
	unary := func(name string, f func(float64) float64) govaluate.ExpressionFunction {
		return func(args ...interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("got %d arguments for function '%s', but needs 1", len(args), name)
			}
			x, err := cast.ToFloat64E(args[0])
			if err != nil {
				return nil, fmt.Errorf("function '%s': %v", name, err)
			}
			return f(x), nil
		}
	}
	funcs := map[string]govaluate.ExpressionFunction{
		"exp":  unary("exp", math.Exp),
		"log":  unary("log", math.Log),
		"sqrt": unary("sqrt", math.Sqrt),
	}
	for k, v := range outputFunctions {
		funcs[k] = v
	}

	switch ext := strings.ToLower(filepath.Ext(fileName)); {
	case fileName == "", ext == ".geojson", ext == ".json", ext == ".shp":
	default:
		return nil, fmt.Errorf("unsupported output file type %q; use .geojson, .json, or .shp", ext)
	}

	o := &Outputter{
		fileName:        fileName,
		outputVariables: make(map[string]string, len(outputVariables)),
		outputFunctions: funcs,
		expressions:     make(map[string]*govaluate.EvaluableExpression, len(outputVariables)),
	}
	for name, expr := range outputVariables {
		e, err := govaluate.NewEvaluableExpressionWithFunctions(expr, funcs)
		if err != nil {
			return nil, fmt.Errorf("output variable %s: %v", name, err)
		}
		o.outputVariables[name] = expr
		o.expressions[name] = e
		o.names = append(o.names, name)
	}
	sort.Strings(o.names)
	return o, nil
}

// FileName returns the path the output is written to.
func (o *Outputter) FileName() string { return o.fileName }

// CheckOutputVars returns a stage that ensures that the output variables
// only refer to statistics the domain carries and do not shadow them.
func (o *Outputter) CheckOutputVars() Stage {
	return func(d *Domain) error {
		known := map[string]bool{FractionField: true, "code": true}
		for _, a := range d.Attributes {
			known[a] = true
		}
		for _, name := range o.names {
			if known[name] {
				return fmt.Errorf("output variable name '%s' is already in use", name)
			}
			for _, v := range o.expressions[name].Vars() {
				if v == "code" || !known[v] {
					return fmt.Errorf("output variable %s: undefined variable name '%s'", name, v)
				}
			}
		}
		return nil
	}
}

// evaluate calculates the output variables for p.
func (o *Outputter) evaluate(p *SamplePoint) error {
	params := make(map[string]interface{}, len(p.Values)+1)
	for k, v := range p.Values {
		params[k] = float64(v)
	}
	params[FractionField] = p.Share
	p.Derived = make(map[string]float64, len(o.names))
	for _, name := range o.names {
		r, err := o.expressions[name].Evaluate(params)
		if err != nil {
			return fmt.Errorf("output variable %s: %v", name, err)
		}
		v, err := cast.ToFloat64E(r)
		if err != nil {
			return fmt.Errorf("output variable %s: result is not a number: %v", name, err)
		}
		p.Derived[name] = v
	}
	return nil
}

// Derive returns a stage that calculates the output variables for each of
// the domain's points.
func (o *Outputter) Derive() Stage {
	return func(d *Domain) error {
		if len(o.names) == 0 {
			return nil
		}
		for _, p := range d.Points {
			if err := o.evaluate(p); err != nil {
				return fmt.Errorf("point %d: %w", p.Index, err)
			}
		}
		return nil
	}
}

// Output returns a stage that writes the domain's points to the output
// file. Nothing is written if no output file was specified.
func (o *Outputter) Output() Stage {
	return func(d *Domain) error {
		if o.fileName == "" {
			return nil
		}
		var err error
		switch strings.ToLower(filepath.Ext(o.fileName)) {
		case ".shp":
			err = o.writeShapefile(d)
		default:
			err = o.writeGeoJSON(d)
		}
		if err != nil {
			return err
		}
		d.Log.WithFields(logrus.Fields{
			"file":   o.fileName,
			"points": len(d.Points),
		}).Info("wrote output")
		return nil
	}
}

func (o *Outputter) writeGeoJSON(d *Domain) error {
	fc := featureCollection{
		Type:     "FeatureCollection",
		Features: make([]feature, len(d.Points)),
	}
	if d.Regions != nil {
		fc.CRS = d.Regions.SpatialRef.GeoJSONCRS
	}
	for i, p := range d.Points {
		props := map[string]interface{}{
			"code":        p.Code,
			FractionField: p.Share,
		}
		for _, a := range d.Attributes {
			props[a] = p.Values[a]
		}
		for _, name := range o.names {
			props[name] = p.Derived[name]
		}
		f, err := newPointFeature(p.Point, props)
		if err != nil {
			return fmt.Errorf("encoding point %d: %v", p.Index, err)
		}
		fc.Features[i] = f
	}
	w, err := os.Create(o.fileName)
	if err != nil {
		return fmt.Errorf("error creating output file: %v", err)
	}
	e := json.NewEncoder(w)
	if err := e.Encode(fc); err != nil {
		w.Close()
		return fmt.Errorf("error writing output file: %v", err)
	}
	return w.Close()
}

// shpFieldName shortens name to the 10 characters allowed in a dBASE
// field name.
func shpFieldName(name string) string {
	if len(name) > 10 {
		return name[:10]
	}
	return name
}

func (o *Outputter) writeShapefile(d *Domain) error {
	fields := []goshp.Field{
		goshp.StringField("code", 50),
		goshp.FloatField(shpFractionField, 14, 10),
	}
	used := map[string]string{"code": "code", shpFractionField: FractionField}
	for _, a := range d.Attributes {
		n := shpFieldName(a)
		if prev, ok := used[n]; ok {
			return fmt.Errorf("shapefile field names for '%s' and '%s' are both '%s'", prev, a, n)
		}
		used[n] = a
		fields = append(fields, goshp.NumberField(n, shpNumberWidth))
	}
	for _, name := range o.names {
		n := shpFieldName(name)
		if prev, ok := used[n]; ok {
			return fmt.Errorf("shapefile field names for '%s' and '%s' are both '%s'", prev, name, n)
		}
		used[n] = name
		fields = append(fields, goshp.FloatField(n, shpFloatWidth, 8))
	}

	// remove extension and replace it with .shp
	fileBase := strings.TrimSuffix(o.fileName, filepath.Ext(o.fileName))
	shape, err := shp.NewEncoderFromFields(fileBase+".shp", goshp.POINT, fields...)
	if err != nil {
		return fmt.Errorf("error creating output shapefile: %v", err)
	}
	for i, p := range d.Points {
		vals := []interface{}{p.Code, p.Share}
		for _, a := range d.Attributes {
			vals = append(vals, int(p.Values[a]))
		}
		for _, name := range o.names {
			vals = append(vals, p.Derived[name])
		}
		// The encoder drops values that are too wide for their field
		// without reporting it.
		for j, v := range vals {
			if err := checkFieldWidth(fields[j], v); err != nil {
				shape.Close()
				return fmt.Errorf("error writing output shapefile: point %d: %v", i, err)
			}
		}
		if err := shape.EncodeFields(p.Point, vals...); err != nil {
			shape.Close()
			return fmt.Errorf("error writing output shapefile: %v", err)
		}
	}
	shape.Close()

	if d.Regions == nil || d.Regions.SpatialRef.Def == "" {
		return nil
	}
	if err := os.WriteFile(fileBase+".prj", []byte(d.Regions.SpatialRef.Def), 0644); err != nil {
		return fmt.Errorf("error creating output prj file: %v", err)
	}
	return nil
}

// checkFieldWidth returns an error if v, formatted the way go-shp
// writes it, is longer than f.
func checkFieldWidth(f goshp.Field, v interface{}) error {
	var s string
	switch v := v.(type) {
	case int:
		s = strconv.Itoa(v)
	case float64:
		s = strconv.FormatFloat(v, 'f', int(f.Precision), 64)
	case string:
		s = v
	default:
		return fmt.Errorf("field %s: unsupported value type %T", f, v)
	}
	if len(s) > int(f.Size) {
		return fmt.Errorf("field %s: value %s is longer than %d characters", f, s, f.Size)
	}
	return nil
}

// GridOutput returns a stage that writes every sample point to fileName
// with its index and the code of the region that contains it, if any,
// according to a's tie-break policy. Overrides are not applied. The
// output is meant for choosing override indices for a new set of regions.
func GridOutput(fileName string, a *Attributor) Stage {
	return func(d *Domain) error {
		if d.Regions == nil {
			return fmt.Errorf("writing grid: regions have not been loaded")
		}
		if err := a.checkTieBreak(); err != nil {
			return fmt.Errorf("writing grid: %w", err)
		}
		codes := make([]string, len(d.Points))
		for i, p := range d.Points {
			if r, _ := a.locate(d.Regions, p.Point); r != nil {
				codes[i] = r.Code
			}
		}
		var err error
		switch strings.ToLower(filepath.Ext(fileName)) {
		case ".shp":
			err = writeGridShapefile(fileName, d, codes)
		case ".geojson", ".json":
			err = writeGridGeoJSON(fileName, d, codes)
		default:
			err = fmt.Errorf("unsupported grid file type %q; use .geojson, .json, or .shp", filepath.Ext(fileName))
		}
		if err != nil {
			return fmt.Errorf("writing grid: %w", err)
		}
		d.Log.WithFields(logrus.Fields{
			"file":   fileName,
			"points": len(d.Points),
		}).Info("wrote sample grid")
		return nil
	}
}

func writeGridGeoJSON(fileName string, d *Domain, codes []string) error {
	fc := featureCollection{
		Type:     "FeatureCollection",
		CRS:      d.Regions.SpatialRef.GeoJSONCRS,
		Features: make([]feature, len(d.Points)),
	}
	for i, p := range d.Points {
		f, err := newPointFeature(p.Point, map[string]interface{}{"index": p.Index, "code": codes[i]})
		if err != nil {
			return err
		}
		fc.Features[i] = f
	}
	w, err := os.Create(fileName)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(fc); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func writeGridShapefile(fileName string, d *Domain, codes []string) error {
	shape, err := shp.NewEncoderFromFields(fileName, goshp.POINT,
		goshp.NumberField("index", 10), goshp.StringField("code", 50))
	if err != nil {
		return err
	}
	for i, p := range d.Points {
		if err := shape.EncodeFields(p.Point, p.Index, codes[i]); err != nil {
			shape.Close()
			return err
		}
	}
	shape.Close()
	if d.Regions.SpatialRef.Def == "" {
		return nil
	}
	prj := strings.TrimSuffix(fileName, filepath.Ext(fileName)) + ".prj"
	return os.WriteFile(prj, []byte(d.Regions.SpatialRef.Def), 0644)
}
