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
	"testing"

	"github.com/ctessum/geom"
	"github.com/kr/pretty"
)

func square(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{
		{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0},
	}}
}

func region(code string, total float64, g geom.Polygonal) *Region {
	return &Region{
		Polygonal:  g,
		Code:       code,
		Name:       "region " + code,
		Attributes: map[string]float64{"total": total},
	}
}

func newTestRegionSet(t *testing.T, regions ...*Region) *RegionSet {
	t.Helper()
	s, err := NewRegionSet([]string{"total"}, SpatialRef{}, regions...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func samplePoints(pts ...geom.Point) []*SamplePoint {
	o := make([]*SamplePoint, len(pts))
	for i, p := range pts {
		o[i] = &SamplePoint{Point: p, Index: i}
	}
	return o
}

func codes(points []*SamplePoint) []string {
	o := make([]string, len(points))
	for i, p := range points {
		o[i] = p.Code
	}
	return o
}

func TestAttribute(t *testing.T) {
	s := newTestRegionSet(t,
		region("A", 100, square(0, 0, 5, 5)),
		region("B", 100, square(5, 0, 10, 5)),
	)
	points := samplePoints(
		geom.Point{X: 1, Y: 1},
		geom.Point{X: 7, Y: 2},
		geom.Point{X: 20, Y: 20}, // outside
		geom.Point{X: 5, Y: 2},   // on the shared edge
		geom.Point{X: 0, Y: 0},   // on a corner
		geom.Point{X: 4.9, Y: 4.9},
	)
	a := &Attributor{TieBreak: LastMatch}
	kept, stats, err := a.Attribute(s, points)
	if err != nil {
		t.Fatal(err)
	}
	if diff := pretty.Diff(codes(kept), []string{"A", "B", "A"}); len(diff) != 0 {
		t.Errorf("codes: %v", diff)
	}
	wantIndices := []int{0, 1, 5}
	for i, p := range kept {
		if p.Index != wantIndices[i] {
			t.Errorf("kept point %d has index %d, want %d", i, p.Index, wantIndices[i])
		}
	}
	want := AttributionStats{Attributed: 3, Unattributed: 3}
	if stats != want {
		t.Errorf("stats: got %+v, want %+v", stats, want)
	}
}

func TestAttributeTieBreak(t *testing.T) {
	// The small region comes first in the input and lies entirely
	// within the large one.
	s := newTestRegionSet(t,
		region("small", 10, square(5, 5, 7, 7)),
		region("large", 100, square(0, 0, 10, 10)),
	)
	tests := []struct {
		tieBreak TieBreak
		want     string
	}{
		// Last match is the reference behavior and is kept for fidelity,
		// but it is likely a latent bug: an enclave listed before the
		// region surrounding it loses all of its points.
		{tieBreak: LastMatch, want: "large"},
		{tieBreak: FirstMatch, want: "small"},
		{tieBreak: NearestCentroid, want: "small"},
	}
	for _, test := range tests {
		t.Run(string(test.tieBreak), func(t *testing.T) {
			points := samplePoints(geom.Point{X: 6.5, Y: 6.5}, geom.Point{X: 1, Y: 1})
			a := &Attributor{TieBreak: test.tieBreak}
			kept, stats, err := a.Attribute(s, points)
			if err != nil {
				t.Fatal(err)
			}
			if diff := pretty.Diff(codes(kept), []string{test.want, "large"}); len(diff) != 0 {
				t.Errorf("codes: %v", diff)
			}
			if stats.Overlapping != 1 {
				t.Errorf("overlapping: got %d, want 1", stats.Overlapping)
			}
		})
	}
}

func TestAttributeOverrides(t *testing.T) {
	s := newTestRegionSet(t,
		region("A", 100, square(0, 0, 5, 5)),
		region("B", 100, square(5, 0, 10, 5)),
	)
	points := samplePoints(
		geom.Point{X: 1, Y: 1},
		geom.Point{X: 20, Y: 20},
		geom.Point{X: 2, Y: 2},
	)
	a := &Attributor{
		TieBreak:  LastMatch,
		Overrides: map[int]string{1: "B", 2: "B"},
	}
	kept, stats, err := a.Attribute(s, points)
	if err != nil {
		t.Fatal(err)
	}
	if diff := pretty.Diff(codes(kept), []string{"A", "B", "B"}); len(diff) != 0 {
		t.Errorf("codes: %v", diff)
	}
	want := AttributionStats{Attributed: 3, Overridden: 2}
	if stats != want {
		t.Errorf("stats: got %+v, want %+v", stats, want)
	}
}

func TestAttributeReset(t *testing.T) {
	s := newTestRegionSet(t, region("A", 100, square(0, 0, 5, 5)))
	points := samplePoints(geom.Point{X: 1, Y: 1}, geom.Point{X: 8, Y: 8})
	points[1].Code = "A"
	kept, _, err := (&Attributor{TieBreak: FirstMatch}).Attribute(s, points)
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != 1 || kept[0].Index != 0 {
		t.Errorf("stale codes should be cleared; kept %v", codes(kept))
	}
}

func TestAttributeErrors(t *testing.T) {
	s := newTestRegionSet(t, region("A", 100, square(0, 0, 5, 5)))
	tests := []struct {
		name string
		a    *Attributor
	}{
		{name: "tie-break", a: &Attributor{TieBreak: "random"}},
		{name: "negative index", a: &Attributor{TieBreak: LastMatch, Overrides: map[int]string{-1: "A"}}},
		{name: "index out of range", a: &Attributor{TieBreak: LastMatch, Overrides: map[int]string{2: "A"}}},
		{name: "unknown code", a: &Attributor{TieBreak: LastMatch, Overrides: map[int]string{0: "Z"}}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			points := samplePoints(geom.Point{X: 1, Y: 1}, geom.Point{X: 2, Y: 2})
			if _, _, err := test.a.Attribute(s, points); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
