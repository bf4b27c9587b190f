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
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tealeg/xlsx"
)

// reportHeader returns the column names of an allocation report.
func reportHeader(attributes []string) []string {
	h := []string{"code", "name", "points", "share_sum"}
	for _, a := range attributes {
		h = append(h, a, a+"_allocated", a+"_loss")
	}
	return h
}

// WriteReport writes the allocation summaries to fileName. The format is
// chosen from the extension: .xlsx for an Excel workbook or .csv for
// comma-separated values.
func WriteReport(fileName string, attributes []string, summaries []RegionSummary) error {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx":
		return writeReportXLSX(fileName, attributes, summaries)
	case ".csv":
		return writeReportCSV(fileName, attributes, summaries)
	default:
		return fmt.Errorf("unsupported report file type %q; use .xlsx or .csv", filepath.Ext(fileName))
	}
}

func writeReportXLSX(fileName string, attributes []string, summaries []RegionSummary) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("allocation")
	if err != nil {
		return err
	}
	row := sheet.AddRow()
	for _, h := range reportHeader(attributes) {
		row.AddCell().SetString(h)
	}
	for _, s := range summaries {
		row = sheet.AddRow()
		row.AddCell().SetString(s.Code)
		row.AddCell().SetString(s.Name)
		row.AddCell().SetInt(s.Points)
		row.AddCell().SetFloat(s.ShareSum)
		for _, a := range attributes {
			row.AddCell().SetFloat(s.Original[a])
			row.AddCell().SetInt(int(s.Allocated[a]))
			row.AddCell().SetFloat(s.Loss(a))
		}
	}
	if err := f.Save(fileName); err != nil {
		return fmt.Errorf("writing report: %v", err)
	}
	return nil
}

func writeReportCSV(fileName string, attributes []string, summaries []RegionSummary) error {
	f, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("creating report: %v", err)
	}
	w := csv.NewWriter(f)
	w.Write(reportHeader(attributes))
	ff := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for _, s := range summaries {
		line := []string{s.Code, s.Name, strconv.Itoa(s.Points), ff(s.ShareSum)}
		for _, a := range attributes {
			line = append(line, ff(s.Original[a]), strconv.FormatInt(s.Allocated[a], 10), ff(s.Loss(a)))
		}
		w.Write(line)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("writing report: %v", err)
	}
	return f.Close()
}

// Report returns a stage that writes the allocation summaries to fileName.
// Nothing is written if fileName is empty.
func Report(fileName string) Stage {
	return func(d *Domain) error {
		if fileName == "" {
			return nil
		}
		if err := WriteReport(fileName, d.Attributes, d.Summary); err != nil {
			return err
		}
		d.Log.WithFields(logrus.Fields{
			"file":    fileName,
			"regions": len(d.Summary),
		}).Info("wrote allocation report")
		return nil
	}
}
