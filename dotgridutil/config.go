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
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/dotgrid"
	"github.com/spf13/cast"
	"gonum.org/v1/plot/vg"
)

// Config holds the settings for a dotgrid run.
type Config struct {
	RegionFile string
	Regions    dotgrid.RegionConfig
	Grid       dotgrid.GridConfig
	Attributor *dotgrid.Attributor

	OutputFile      string
	OutputVariables map[string]string
	ReportFile      string
	Render          *dotgrid.Renderer

	LogFile  string
	LogLevel logrus.Level
}

// LoadConfig unmarshals and checks a viper configuration.
func LoadConfig(cfg *viper.Viper) (*Config, error) {
	c := &Config{
		RegionFile: os.ExpandEnv(cfg.GetString("RegionFile")),
		Regions: dotgrid.RegionConfig{
			CodeColumn: os.ExpandEnv(cfg.GetString("Regions.CodeColumn")),
			NameColumn: os.ExpandEnv(cfg.GetString("Regions.NameColumn")),
			Attributes: expandStringSlice(cfg.GetStringSlice("Regions.Attributes")),
			TargetProj: os.ExpandEnv(cfg.GetString("Regions.TargetProj")),
		},
		Grid: dotgrid.GridConfig{
			Resolution: cfg.GetInt("Grid.Resolution"),
			Shape:      dotgrid.GridShape(strings.ToLower(cfg.GetString("Grid.Shape"))),
		},
		Attributor: &dotgrid.Attributor{
			TieBreak: dotgrid.TieBreak(strings.ToLower(cfg.GetString("Attribution.TieBreak"))),
		},
		ReportFile: os.ExpandEnv(cfg.GetString("ReportFile")),
		LogFile:    os.ExpandEnv(cfg.GetString("LogFile")),
	}
	if c.RegionFile == "" {
		return nil, fmt.Errorf("dotgrid: you need to specify a RegionFile configuration variable")
	}
	if err := c.Grid.Check(); err != nil {
		return nil, fmt.Errorf("dotgrid: parsing grid configuration: %v", err)
	}

	overrides, err := getStringMapString("Attribution.Overrides", cfg)
	if err != nil {
		return nil, fmt.Errorf("dotgrid: parsing config variable Attribution.Overrides: %v", err)
	}
	c.Attributor.Overrides = make(map[int]string, len(overrides))
	for k, v := range overrides {
		i, err := cast.ToIntE(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("dotgrid: Attribution.Overrides: invalid point index %q", k)
		}
		c.Attributor.Overrides[i] = v
	}

	if c.OutputFile, err = checkOutputFile(cfg.GetString("OutputFile")); err != nil {
		return nil, err
	}
	outputVars, err := getStringMapString("OutputVariables", cfg)
	if err != nil {
		return nil, fmt.Errorf("dotgrid: parsing config variable OutputVariables: %v", err)
	}
	c.OutputVariables = checkOutputVars(outputVars)

	if c.LogLevel, err = logrus.ParseLevel(cfg.GetString("LogLevel")); err != nil {
		return nil, fmt.Errorf("dotgrid: %v", err)
	}

	c.Render, err = renderer(cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// renderer unmarshals the map drawing settings.
func renderer(cfg *viper.Viper) (*dotgrid.Renderer, error) {
	r := dotgrid.DefaultRenderer()
	r.File = os.ExpandEnv(cfg.GetString("Render.File"))
	r.SizeBy = cfg.GetString("Render.SizeBy")
	r.MaxRadius = vg.Length(cfg.GetFloat64("Render.MaxRadius"))
	r.MapProj = os.ExpandEnv(cfg.GetString("Render.MapProj"))
	r.Open = cfg.GetBool("Render.Open")
	var err error
	if r.Width, err = vg.ParseLength(cfg.GetString("Render.Width")); err != nil {
		return nil, fmt.Errorf("dotgrid: Render.Width: %v", err)
	}
	if r.Height, err = vg.ParseLength(cfg.GetString("Render.Height")); err != nil {
		return nil, fmt.Errorf("dotgrid: Render.Height: %v", err)
	}
	if !(r.MaxRadius > 0) || !(r.Width > 0) || !(r.Height > 0) {
		return nil, fmt.Errorf("dotgrid: Render.MaxRadius, Render.Width, and Render.Height must be > 0")
	}
	return r, nil
}

// checkOutputVars removes end lines and expands environment
// variables in the output variables.
func checkOutputVars(vars map[string]string) map[string]string {
	o := make(map[string]string, len(vars))
	for k, v := range vars {
		v = strings.Replace(v, "\r\n", " ", -1)
		v = strings.Replace(v, "\n", " ", -1)
		o[os.ExpandEnv(k)] = os.ExpandEnv(v)
	}
	return o
}

// expandStringSlice expands the environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(s[i])
	}
	return s
}

// checkOutputFile makes sure that the directory of the output file exists,
// and expands any environment variables. An empty path is allowed.
func checkOutputFile(f string) (string, error) {
	if f == "" {
		return f, nil
	}
	f = os.ExpandEnv(f)
	outdir := filepath.Dir(f)
	if _, err := os.Stat(outdir); err != nil {
		return f, fmt.Errorf("dotgrid: the OutputFile directory doesn't exist: %v", err)
	}
	return f, nil
}

// getStringMapString returns a map[string]string from a viper configuration,
// accounting for the fact that it might be a json object if it was set
// from a command line argument.
func getStringMapString(varName string, cfg *viper.Viper) (map[string]string, error) {
	i := cfg.Get(varName)
	switch v := i.(type) {
	case nil:
		return make(map[string]string), nil
	case map[string]string:
		return v, nil
	case map[string]interface{}:
		return cast.ToStringMapStringE(v)
	case map[interface{}]interface{}:
		return cast.ToStringMapStringE(v)
	case string:
		if strings.TrimSpace(v) == "" {
			return make(map[string]string), nil
		}
		b := bytes.NewBuffer([]byte(v))
		d := json.NewDecoder(b)
		o := make(map[string]string)
		if err := d.Decode(&o); err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, fmt.Errorf("invalid type for variable %s: %#v", varName, i)
	}
}
