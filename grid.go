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

	"github.com/ctessum/geom"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// GridShape is the layout of the sample lattice.
type GridShape string

// Available lattice layouts.
const (
	Rectangular GridShape = "rectangular"
	Hexagonal   GridShape = "hexagonal"
)

// GridConfig specifies the sample lattice.
type GridConfig struct {
	// Resolution is the number of points along each axis.
	Resolution int
	Shape      GridShape
}

// DefaultGridConfig returns a 30×30 rectangular lattice.
func DefaultGridConfig() GridConfig {
	return GridConfig{Resolution: 30, Shape: Rectangular}
}

// SamplePoint is a lattice point. It is annotated with the region it
// falls in and its share of that region's statistics as it moves
// through the pipeline.
type SamplePoint struct {
	geom.Point

	// Index is the position of the point in generation order.
	Index int

	// Code is the code of the containing region, or "" if the
	// point has not been attributed to a region.
	Code string

	// Share is the fraction of the region statistics allocated to this
	// point: 1 / the number of points in the region.
	Share float64

	// Values holds the allocated statistics, truncated toward zero.
	Values map[string]int64

	// Derived holds the results of any output expressions.
	Derived map[string]float64
}

// Check returns an error if the configuration is invalid.
func (c GridConfig) Check() error {
	if c.Resolution < 1 {
		return fmt.Errorf("grid resolution must be at least 1, but is %d", c.Resolution)
	}
	switch c.Shape {
	case Rectangular, Hexagonal:
		return nil
	default:
		return fmt.Errorf("invalid grid shape %q; must be %q or %q", c.Shape, Rectangular, Hexagonal)
	}
}

// NewGrid returns Resolution×Resolution points evenly spaced over b,
// including its edges. The points are ordered row by row from the top
// (maximum y) edge down, and within each row from the maximum x edge to
// the minimum. For hexagonal grids the points in alternating columns
// are shifted up and down by a quarter of the row spacing.
func (c GridConfig) NewGrid(b *geom.Bounds) ([]*SamplePoint, error) {
	if err := c.Check(); err != nil {
		return nil, err
	}
	if b == nil || b.Empty() {
		return nil, fmt.Errorf("cannot create a grid over empty bounds")
	}
	n := c.Resolution
	xs := linspace(b.Max.X, b.Min.X, n)
	ys := linspace(b.Max.Y, b.Min.Y, n)

	var delta float64
	if c.Shape == Hexagonal && n > 1 {
		delta = (ys[0] - ys[1]) / 4
	}

	points := make([]*SamplePoint, 0, n*n)
	for _, y := range ys {
		for i, x := range xs {
			yy := y
			if i%2 == 0 {
				yy += delta
			} else {
				yy -= delta
			}
			points = append(points, &SamplePoint{
				Point: geom.Point{X: x, Y: yy},
				Index: len(points),
			})
		}
	}
	return points, nil
}

// linspace returns n evenly spaced values from start to stop, inclusive.
// The last value is exactly stop, so lattice points on the bounding box
// edge stay on region boundaries.
func linspace(start, stop float64, n int) []float64 {
	if n == 1 {
		return []float64{start}
	}
	o := floats.Span(make([]float64, n), start, stop)
	o[n-1] = stop
	return o
}

// Sample returns a stage that covers the bounding box of the domain's
// regions with sample points.
func (c GridConfig) Sample() Stage {
	return func(d *Domain) error {
		if d.Regions == nil {
			return fmt.Errorf("sampling grid: regions have not been loaded")
		}
		points, err := c.NewGrid(d.Regions.Bounds())
		if err != nil {
			return fmt.Errorf("sampling grid: %w", err)
		}
		d.Points = points
		d.Log.WithFields(logrus.Fields{
			"points":     len(points),
			"resolution": c.Resolution,
			"shape":      c.Shape,
		}).Info("created sample grid")
		return nil
	}
}
