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
	"math"
	"sort"

	"github.com/ctessum/geom"
	"github.com/sirupsen/logrus"
)

// TieBreak decides which region a point is attributed to when more than
// one region contains it.
type TieBreak string

// Available tie-break policies.
const (
	// LastMatch picks the containing region that comes last in the
	// input file.
	LastMatch TieBreak = "last"

	// FirstMatch picks the containing region that comes first in the
	// input file.
	FirstMatch TieBreak = "first"

	// NearestCentroid picks the containing region whose centroid is
	// closest to the point.
	NearestCentroid TieBreak = "centroid"
)

// Attributor assigns sample points to the regions that contain them.
type Attributor struct {
	TieBreak TieBreak

	// Overrides force the points at the given indices (in generation
	// order) into the regions with the given codes after the automatic
	// pass. They handle enclaves whose points are not otherwise caught,
	// and are specific to the input regions and grid.
	Overrides map[int]string
}

// DefaultAttributor returns the attribution settings for the département
// statistics at the default grid resolution: last match wins, point 3
// goes to region P and point 5 to region 75.
func DefaultAttributor() *Attributor {
	return &Attributor{
		TieBreak:  LastMatch,
		Overrides: map[int]string{3: "P", 5: "75"},
	}
}

// AttributionStats summarizes an attribution pass.
type AttributionStats struct {
	Attributed   int // points assigned to a region
	Unattributed int // points in no region, which are dropped
	Overlapping  int // points in more than one region
	Overridden   int // points whose region was forced by an override
}

func (a *Attributor) checkTieBreak() error {
	switch a.TieBreak {
	case LastMatch, FirstMatch, NearestCentroid:
		return nil
	default:
		return fmt.Errorf("invalid tie-break policy %q; must be %q, %q, or %q",
			a.TieBreak, LastMatch, FirstMatch, NearestCentroid)
	}
}

func (a *Attributor) check(s *RegionSet, numPoints int) error {
	if err := a.checkTieBreak(); err != nil {
		return err
	}
	for i, code := range a.Overrides {
		if i < 0 || i >= numPoints {
			return fmt.Errorf("override index %d is outside of the grid, which has %d points", i, numPoints)
		}
		if _, ok := s.Get(code); !ok {
			return fmt.Errorf("override for point %d names region %q, which does not exist", i, code)
		}
	}
	return nil
}

// locate returns the region containing p according to the tie-break
// policy, or nil if no region contains it, along with the number of
// containing regions. Points on a region boundary are not contained.
func (a *Attributor) locate(s *RegionSet, p geom.Point) (*Region, int) {
	var (
		match *Region
		n     int
		best  = math.Inf(1)
	)
	for _, r := range s.candidates(p.Bounds()) {
		if p.Within(r.Polygonal) != geom.Inside {
			continue
		}
		n++
		switch a.TieBreak {
		case LastMatch:
			match = r
		case FirstMatch:
			if match == nil {
				match = r
			}
		case NearestCentroid:
			c := r.Centroid()
			if dist := math.Hypot(c.X-p.X, c.Y-p.Y); dist < best {
				best = dist
				match = r
			}
		}
	}
	return match, n
}

// Attribute sets the region code of each point and returns the points
// that were attributed to a region, in their original order. Points are
// modified in place.
func (a *Attributor) Attribute(s *RegionSet, points []*SamplePoint) ([]*SamplePoint, AttributionStats, error) {
	var stats AttributionStats
	if err := a.check(s, len(points)); err != nil {
		return nil, stats, err
	}
	for _, p := range points {
		p.Code = ""
		r, n := a.locate(s, p.Point)
		if r != nil {
			p.Code = r.Code
		}
		if n > 1 {
			stats.Overlapping++
		}
	}

	overrides := make([]int, 0, len(a.Overrides))
	for i := range a.Overrides {
		overrides = append(overrides, i)
	}
	sort.Ints(overrides)
	for _, i := range overrides {
		points[i].Code = a.Overrides[i]
		stats.Overridden++
	}

	kept := make([]*SamplePoint, 0, len(points))
	for _, p := range points {
		if p.Code == "" {
			stats.Unattributed++
			continue
		}
		kept = append(kept, p)
	}
	stats.Attributed = len(kept)
	return kept, stats, nil
}

// Attribution returns a stage that attributes the domain's points to
// regions and drops the points that fall in no region.
func (a *Attributor) Attribution() Stage {
	return func(d *Domain) error {
		if d.Regions == nil {
			return fmt.Errorf("attributing points: regions have not been loaded")
		}
		kept, stats, err := a.Attribute(d.Regions, d.Points)
		if err != nil {
			return fmt.Errorf("attributing points: %w", err)
		}
		d.Points = kept
		d.Log.WithFields(logrus.Fields{
			"attributed":  stats.Attributed,
			"dropped":     stats.Unattributed,
			"overlapping": stats.Overlapping,
			"overridden":  stats.Overridden,
			"tiebreak":    a.TieBreak,
		}).Info("attributed points to regions")
		return nil
	}
}
