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
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/carto"
	"github.com/ctessum/geom/proj"
	"github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
	"gonum.org/v1/plot/vg/vgpdf"
	"gonum.org/v1/plot/vg/vgsvg"
)

var (
	outlineColor = color.NRGBA{R: 211, G: 211, B: 211, A: 255}
	dotColor     = color.NRGBA{R: 31, G: 119, B: 180, A: 170}
)

// Renderer draws a proportional dot map of a domain.
type Renderer struct {
	// File is where the map is written. The format is chosen from the
	// extension: .png, .jpg, .svg, or .pdf.
	File string

	// SizeBy is the allocated statistic or output variable that sets
	// the size of the dots. Dot area is proportional to the value.
	SizeBy string

	// MaxRadius is the radius of the dot with the largest value.
	MaxRadius vg.Length

	// Width and Height are the dimensions of the map.
	Width, Height vg.Length

	// MapProj is the projection the map is drawn in. It is only used
	// when the spatial reference of the regions is known. If it is empty
	// the native coordinates are used.
	MapProj string

	// Open specifies whether to open the map with the system viewer
	// after it has been written.
	Open bool
}

// DefaultRenderer returns a Renderer with the default settings. File is
// left empty, which disables rendering.
func DefaultRenderer() *Renderer {
	return &Renderer{
		SizeBy:    "services",
		MaxRadius: 15,
		Width:     6 * vg.Inch,
		Height:    4 * vg.Inch,
		MapProj:   webMapProj,
	}
}

// sizeValue returns the value of the size variable for p.
func (r *Renderer) sizeValue(p *SamplePoint) (float64, bool) {
	if v, ok := p.Values[r.SizeBy]; ok {
		return float64(v), true
	}
	v, ok := p.Derived[r.SizeBy]
	return v, ok
}

// transformer returns a function that projects geometries for drawing.
func (r *Renderer) transformer(d *Domain) (func(geom.Geom) (geom.Geom, error), error) {
	identity := func(g geom.Geom) (geom.Geom, error) { return g, nil }
	if r.MapProj == "" || d.Regions == nil || d.Regions.SpatialRef.Def == "" {
		return identity, nil
	}
	src, err := d.Regions.SpatialRef.SR()
	if err != nil {
		return nil, err
	}
	dst, err := proj.Parse(r.MapProj)
	if err != nil {
		return nil, fmt.Errorf("parsing map projection: %v", err)
	}
	ct, err := src.NewTransform(dst)
	if err != nil {
		return nil, err
	}
	return func(g geom.Geom) (geom.Geom, error) { return g.Transform(ct) }, nil
}

// Draw draws the region outlines and the domain's points onto c.
func (r *Renderer) Draw(d *Domain, c draw.Canvas) error {
	if d.Regions == nil {
		return fmt.Errorf("rendering: regions have not been loaded")
	}
	if r.MaxRadius <= 0 {
		return fmt.Errorf("rendering: MaxRadius must be positive but is %v", r.MaxRadius)
	}
	tr, err := r.transformer(d)
	if err != nil {
		return fmt.Errorf("rendering: %v", err)
	}

	outlines := make([]geom.Geom, d.Regions.Len())
	b := geom.NewBounds()
	for i, reg := range d.Regions.Regions() {
		g, err := tr(reg.Polygonal)
		if err != nil {
			return fmt.Errorf("rendering: projecting region %s: %v", reg.Code, err)
		}
		outlines[i] = g
		b.Extend(g.Bounds())
	}

	values := make([]float64, len(d.Points))
	dots := make([]geom.Geom, len(d.Points))
	var vmax float64
	for i, p := range d.Points {
		v, ok := r.sizeValue(p)
		if !ok {
			return fmt.Errorf("rendering: point %d has no variable '%s'", p.Index, r.SizeBy)
		}
		g, err := tr(p.Point)
		if err != nil {
			return fmt.Errorf("rendering: projecting point %d: %v", p.Index, err)
		}
		values[i], dots[i] = v, g
		vmax = math.Max(vmax, v)
		b.Extend(g.Bounds())
	}

	// Leave room for the largest dot at the edges.
	c = draw.Crop(c, r.MaxRadius, -r.MaxRadius, r.MaxRadius, -r.MaxRadius)
	m := carto.NewCanvas(b.Max.Y, b.Min.Y, b.Max.X, b.Min.X, c)

	lineStyle := draw.LineStyle{Color: outlineColor, Width: 0.5}
	transparent := color.NRGBA{}
	for _, g := range outlines {
		if err := m.DrawVector(g, transparent, lineStyle, draw.GlyphStyle{}); err != nil {
			return fmt.Errorf("rendering: %v", err)
		}
	}

	if vmax <= 0 {
		return nil
	}
	for i, g := range dots {
		if values[i] <= 0 {
			continue
		}
		glyph := draw.GlyphStyle{
			Color:  dotColor,
			Radius: r.MaxRadius * vg.Length(math.Sqrt(values[i]/vmax)),
			Shape:  draw.CircleGlyph{},
		}
		if err := m.DrawVector(g, dotColor, draw.LineStyle{}, glyph); err != nil {
			return fmt.Errorf("rendering: %v", err)
		}
	}
	return nil
}

// writerTo is implemented by the vg back ends.
type writerTo interface {
	vg.CanvasSizer
	io.WriterTo
}

// newCanvas creates a canvas for the format given by the extension of
// fileName.
func (r *Renderer) newCanvas(fileName string) (writerTo, error) {
	switch ext := strings.ToLower(filepath.Ext(fileName)); ext {
	case ".png":
		return vgimg.PngCanvas{Canvas: vgimg.New(r.Width, r.Height)}, nil
	case ".jpg", ".jpeg":
		return vgimg.JpegCanvas{Canvas: vgimg.New(r.Width, r.Height)}, nil
	case ".svg":
		return vgsvg.New(r.Width, r.Height), nil
	case ".pdf":
		return vgpdf.New(r.Width, r.Height), nil
	default:
		return nil, fmt.Errorf("unsupported map file type %q; use .png, .jpg, .svg, or .pdf", ext)
	}
}

// WriteMap draws the domain and writes the map to fileName.
func (r *Renderer) WriteMap(d *Domain, fileName string) error {
	c, err := r.newCanvas(fileName)
	if err != nil {
		return err
	}
	if err := r.Draw(d, draw.New(c)); err != nil {
		return err
	}
	f, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("creating map file: %v", err)
	}
	if _, err := c.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("writing map file: %v", err)
	}
	return f.Close()
}

// Render returns a stage that writes the map to r.File and, if r.Open is
// set, opens it. Nothing is drawn if r.File is empty.
func (r *Renderer) Render() Stage {
	return func(d *Domain) error {
		if r.File == "" {
			return nil
		}
		if err := r.WriteMap(d, r.File); err != nil {
			return err
		}
		d.Log.WithFields(logrus.Fields{
			"file":   r.File,
			"points": len(d.Points),
		}).Info("wrote map")
		if r.Open {
			if err := open.Run(r.File); err != nil {
				d.Log.WithError(err).Warn("could not open map")
			}
		}
		return nil
	}
}
