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

package dotgridutil

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/dotgrid"
	"github.com/spf13/cobra"
)

// newLogger returns a logger that writes to the output of cmd and, if
// logFile is not empty, to logFile. The returned function closes the
// log file.
func newLogger(cmd *cobra.Command, logFile string, level logrus.Level) (*logrus.Logger, func(), error) {
	log := logrus.New()
	log.Level = level
	if logFile == "" {
		log.Out = cmd.OutOrStdout()
		return log, func() {}, nil
	}
	f, err := os.Create(logFile)
	if err != nil {
		return nil, nil, fmt.Errorf("dotgrid: problem creating log file: %v", err)
	}
	log.Out = io.MultiWriter(cmd.OutOrStdout(), f)
	return log, func() { f.Close() }, nil
}

// Run loads the regions in c.RegionFile, samples and attributes the
// lattice, allocates the region statistics, and writes whichever of the
// output file, report, and map c specifies.
//
// CobraCommand is the cobra.Command instance where Run is called from.
// Log messages are written to its output.
func Run(CobraCommand *cobra.Command, c *Config) error {
	startTime := time.Now()

	log, closeLog, err := newLogger(CobraCommand, c.LogFile, c.LogLevel)
	if err != nil {
		return err
	}
	defer closeLog()

	o, err := dotgrid.NewOutputter(c.OutputFile, c.OutputVariables, nil)
	if err != nil {
		return fmt.Errorf("dotgrid: %v", err)
	}

	d := &dotgrid.Domain{
		Stages: []dotgrid.Stage{
			c.Regions.Load(c.RegionFile),
			o.CheckOutputVars(),
			c.Grid.Sample(),
			c.Attributor.Attribution(),
			dotgrid.Allocation(),
			o.Derive(),
			o.Output(),
			dotgrid.Report(c.ReportFile),
			c.Render.Render(),
		},
		Log: log,
	}
	if err := d.Init(); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"points":  len(d.Points),
		"regions": len(d.Summary),
		"elapsed": time.Since(startTime).String(),
	}).Info("dotgrid run completed")
	return nil
}

// Grid loads the regions in c.RegionFile, samples the lattice, and
// writes every point to c.OutputFile with its index and the region that
// contains it.
func Grid(CobraCommand *cobra.Command, c *Config) error {
	if c.OutputFile == "" {
		return fmt.Errorf("dotgrid: you need to specify an OutputFile configuration variable " +
			`(for example: OutputFile="grid.geojson")`)
	}
	log, closeLog, err := newLogger(CobraCommand, c.LogFile, c.LogLevel)
	if err != nil {
		return err
	}
	defer closeLog()

	d := &dotgrid.Domain{
		Stages: []dotgrid.Stage{
			c.Regions.Load(c.RegionFile),
			c.Grid.Sample(),
			dotgrid.GridOutput(c.OutputFile, c.Attributor),
		},
		Log: log,
	}
	return d.Init()
}
