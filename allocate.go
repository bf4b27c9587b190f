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
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// RegionSummary holds the allocation totals for one region.
type RegionSummary struct {
	Code   string
	Name   string
	Points int // number of sample points in the region

	// ShareSum is the sum of the shares of the region's points. It
	// should equal 1 to within floating point error.
	ShareSum float64

	Original  map[string]float64 // region statistics
	Allocated map[string]int64   // sums of the allocated point values
}

// Loss returns the amount of attribute a lost to truncation when the
// region's statistics were split among its points.
func (s RegionSummary) Loss(a string) float64 {
	return s.Original[a] - float64(s.Allocated[a])
}

// Allocate splits the statistics of each region evenly among the points
// attributed to it. Each point gets a share of 1/N, where N is the number
// of points in its region, and each of the named attributes is set to the
// region value times the share, truncated toward zero. Regions with no
// points are left out of the returned summaries, which are sorted by code.
func Allocate(s *RegionSet, attributes []string, points []*SamplePoint) ([]RegionSummary, error) {
	groups := make(map[string][]*SamplePoint)
	for _, p := range points {
		if p.Code == "" {
			return nil, fmt.Errorf("point %d has not been attributed to a region", p.Index)
		}
		if _, ok := s.Get(p.Code); !ok {
			return nil, fmt.Errorf("point %d is attributed to unknown region %q", p.Index, p.Code)
		}
		groups[p.Code] = append(groups[p.Code], p)
	}

	codes := make([]string, 0, len(groups))
	for code := range groups {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	summaries := make([]RegionSummary, len(codes))
	for i, code := range codes {
		r, _ := s.Get(code)
		group := groups[code]
		share := 1 / float64(len(group))
		shares := make([]float64, len(group))
		sum := RegionSummary{
			Code:      r.Code,
			Name:      r.Name,
			Points:    len(group),
			Original:  make(map[string]float64, len(attributes)),
			Allocated: make(map[string]int64, len(attributes)),
		}
		for j, p := range group {
			p.Share = share
			shares[j] = share
			p.Values = make(map[string]int64, len(attributes))
			for _, a := range attributes {
				v, ok := r.Attributes[a]
				if !ok {
					return nil, fmt.Errorf("region %s is missing attribute %q", code, a)
				}
				p.Values[a] = int64(v * share)
				sum.Allocated[a] += p.Values[a]
			}
		}
		for _, a := range attributes {
			sum.Original[a] = r.Attributes[a]
		}
		sum.ShareSum = floats.Sum(shares)
		summaries[i] = sum
	}
	return summaries, nil
}

// Allocation returns a stage that allocates the region statistics among
// the domain's attributed points.
func Allocation() Stage {
	return func(d *Domain) error {
		if d.Regions == nil {
			return fmt.Errorf("allocating statistics: regions have not been loaded")
		}
		summaries, err := Allocate(d.Regions, d.Attributes, d.Points)
		if err != nil {
			return fmt.Errorf("allocating statistics: %w", err)
		}
		d.Summary = summaries

		loss := make(logrus.Fields, len(d.Attributes))
		for _, a := range d.Attributes {
			var l float64
			for _, s := range summaries {
				l += s.Loss(a)
			}
			loss["loss_"+a] = l
		}
		for _, s := range summaries {
			d.Log.WithFields(logrus.Fields{
				"code":   s.Code,
				"points": s.Points,
			}).Debug("allocated region")
		}
		d.Log.WithFields(loss).WithFields(logrus.Fields{
			"regions": len(summaries),
			"absent":  d.Regions.Len() - len(summaries),
			"points":  len(d.Points),
		}).Info("allocated region statistics")
		return nil
	}
}
