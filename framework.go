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

// Package dotgrid samples a regular lattice of points over a set of
// administrative regions and apportions each region's statistics among the
// points that fall inside it, so that the statistics can be drawn as a
// proportional dot map.
package dotgrid

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Version gives the version number.
const Version = "1.0.0"

// webMapProj is the spatial reference for web mapping.
const webMapProj = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs"

// WebMapProj returns the web Mercator spatial reference used by default
// when drawing maps.
func WebMapProj() string { return webMapProj }

// Domain holds the state of a dot map as it moves through the pipeline.
type Domain struct {
	// Regions are the administrative polygons the statistics come from.
	Regions *RegionSet

	// Points are the sample points. After the attribution stage
	// only attributed points remain.
	Points []*SamplePoint

	// Summary holds per-region allocation totals once the allocation
	// stage has run.
	Summary []RegionSummary

	// Attributes are the names of the region statistics to allocate.
	Attributes []string

	// Stages are run in order by Init.
	Stages []Stage

	// Log receives progress messages. If it is nil,
	// logrus.StandardLogger() is used.
	Log logrus.FieldLogger
}

// Stage is a function that performs one step of the pipeline on a Domain.
type Stage func(d *Domain) error

// Init runs the stages in d in order, stopping at the first error.
func (d *Domain) Init() error {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	for _, s := range d.Stages {
		if err := s(d); err != nil {
			return fmt.Errorf("dotgrid: %w", err)
		}
	}
	return nil
}

// UseRegions returns a stage that sets an already-loaded region set.
func UseRegions(r *RegionSet) Stage {
	return func(d *Domain) error {
		if r == nil || r.Len() == 0 {
			return fmt.Errorf("empty region set")
		}
		d.Regions = r
		d.Attributes = append([]string{}, r.Attributes...)
		return nil
	}
}
