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

// Package dotgridutil contains the command-line interface and
// configuration handling for dotgrid.
package dotgridutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/dotgrid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to dotgrid.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "RegionFile",
			usage: `
              RegionFile is the path to the GeoJSON (.geojson or .json) or
              shapefile (.shp) holding the region polygons and their
              statistics. It can include environment variables.`,
			shorthand:  "r",
			defaultVal: "${GOPATH}/src/github.com/spatialmodel/dotgrid/testdata/regions.geojson",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "Regions.CodeColumn",
			usage: `
              Regions.CodeColumn is the name of the field in RegionFile that
              holds the unique code of each region.`,
			defaultVal: "code",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "Regions.NameColumn",
			usage: `
              Regions.NameColumn is the name of the field in RegionFile that
              holds the name of each region. It may be left empty.`,
			defaultVal: "department",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "Regions.Attributes",
			usage: `
              Regions.Attributes are the names of the fields in RegionFile
              holding the statistics that are split among the sample points.
              The values must be non-negative numbers.`,
			defaultVal: []string{"agriculture", "industry", "services", "total"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "Regions.TargetProj",
			usage: `
              Regions.TargetProj is an optional Proj4 or WKT spatial reference
              that the regions are transformed into before sampling. The
              regions are used as they are if it is empty.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "Grid.Resolution",
			usage: `
              Grid.Resolution is the number of sample points along each side
              of the bounding box of the regions.`,
			shorthand:  "n",
			defaultVal: 30,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "Grid.Shape",
			usage: `
              Grid.Shape is the layout of the sample points: 'rectangular' or
              'hexagonal'. Hexagonal lattices shift alternating columns up
              and down by a quarter of the row spacing.`,
			defaultVal: "rectangular",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "Attribution.TieBreak",
			usage: `
              Attribution.TieBreak chooses the region of a point that falls
              in more than one region: 'last' for the region that comes last in
              RegionFile, 'first' for the one that comes first, or 'centroid'
              for the one with the nearest centroid.`,
			defaultVal: "last",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "Attribution.Overrides",
			usage: `
              Attribution.Overrides maps sample point indices to the codes of
              the regions they are forced into, for enclaves that the lattice
              would otherwise miss. The indices depend on RegionFile and the
              grid settings; use the 'grid' command to find them.`,
			defaultVal: map[string]string{"3": "P", "5": "75"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "OutputFile",
			usage: `
              OutputFile is the path where the sample points are written, as
              GeoJSON (.geojson or .json) or a shapefile (.shp). No points are
              written if it is empty. It can include environment variables.`,
			shorthand:  "o",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "OutputVariables",
			usage: `
              OutputVariables specifies additional output fields as a map of
              names to expressions of the allocated statistics and
              department_fraction, for example {"nonagri": "industry + services"}.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ReportFile",
			usage: `
              ReportFile is the path where a summary of the allocation for each
              region is written, as .xlsx or .csv. No report is written if it
              is empty.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Render.File",
			usage: `
              Render.File is the path where the dot map is drawn, as .png,
              .jpg, .svg, or .pdf. No map is drawn if it is empty.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Render.SizeBy",
			usage: `
              Render.SizeBy is the allocated statistic or output variable that
              sets the area of the dots.`,
			defaultVal: "services",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Render.MaxRadius",
			usage: `
              Render.MaxRadius is the radius in points of the largest dot.`,
			defaultVal: 15.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Render.Width",
			usage: `
              Render.Width is the width of the map, for example '6in' or '15cm'.`,
			defaultVal: "6in",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Render.Height",
			usage: `
              Render.Height is the height of the map.`,
			defaultVal: "4in",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Render.MapProj",
			usage: `
              Render.MapProj is the Proj4 or WKT spatial reference the map is
              drawn in. It is only used when the spatial reference of the
              regions is known.`,
			defaultVal: dotgrid.WebMapProj(),
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Render.Open",
			usage: `
              Render.Open specifies whether to open the map with the system
              viewer after it has been drawn.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "LogFile",
			usage: `
              LogFile is an optional path where log messages are written in
              addition to standard output.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), gridCmd.Flags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel is the minimum level of the log messages that are
              written: 'debug', 'info', 'warning', or 'error'.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("DOTGRID")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				s := string(b.Bytes())
				if option.shorthand == "" {
					set.String(option.name, s, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, s, option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(gridCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error { return setConfigFile(Cfg) }

func setConfigFile(cfg *viper.Viper) error {
	if cfgpath := cfg.GetString("config"); cfgpath != "" {
		cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("dotgrid: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "dotgrid",
	Short: "Proportional dot maps of regional statistics.",
	Long: `dotgrid covers a set of regions with a regular lattice of sample points,
assigns each point to the region that contains it, and splits each region's
statistics evenly among its points so they can be drawn as a dot map.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'DOTGRID_var' where 'var' is the
name of the variable to be set. Many configuration variables are additionally
allowed to contain environment variables within them.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of dotgrid.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("dotgrid v%s\n", dotgrid.Version)
	},
	DisableAutoGenTag: true,
}

// runCmd is a command that runs the full pipeline.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sample, attribute, and allocate the region statistics.",
	Long: `run loads the regions, covers them with sample points, assigns each
point to a region, splits the region statistics among the points, and then
writes whichever of the output file, report, and map are configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		return Run(cmd, c)
	},
	DisableAutoGenTag: true,
}

// gridCmd is a command that writes the sample lattice.
var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Write the sample lattice",
	Long: `grid loads the regions, covers them with sample points, and writes
every point to OutputFile with its index and the region that contains it.
Use it to find the indices for Attribution.Overrides.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		return Grid(cmd, c)
	},
	DisableAutoGenTag: true,
}
