// Package export writes results as JSON, YAML, CSV or XLSX.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/mgci/internal/model"
)

// Format is an output encoding.
type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
	CSV  Format = "csv"
	XLSX Format = "xlsx"
)

// ParseFormat validates a format name. "yml" is accepted for YAML.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case JSON, YAML, CSV, XLSX:
		return f, nil
	case "yml":
		return YAML, nil
	}
	return "", eris.Errorf("export: unknown format %q (want json, yaml, csv or xlsx)", s)
}

// FormatForPath infers the format from a file extension, defaulting to JSON.
func FormatForPath(path string) Format {
	f, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return JSON
	}
	return f
}

// Write encodes v. JSON and YAML serialize v as is; CSV and XLSX accept
// the result types and write one row per result, series entry or
// assignment.
func Write(w io.Writer, f Format, v any) error {
	switch f {
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "export: encode json")
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "export: encode yaml")
		}
		return eris.Wrap(enc.Close(), "export: close yaml")
	case CSV, XLSX:
		t, err := TableOf(v)
		if err != nil {
			return err
		}
		if f == CSV {
			return writeCSV(w, t)
		}
		return writeXLSX(w, t)
	}
	return eris.Errorf("export: unknown format %q", f)
}

// Table is a header and rows of cells. A nil cell is written empty.
type Table struct {
	Name   string
	Header []string
	Rows   [][]any
}

// TableOf flattens a result value into a Table.
func TableOf(v any) (Table, error) {
	switch t := v.(type) {
	case model.MgciResult:
		return MgciTable(t), nil
	case *model.MgciResult:
		return MgciTable(*t), nil
	case []model.MgciResult:
		return MgciTable(t...), nil
	case model.TimeSeries:
		return SeriesTable(t), nil
	case *model.TimeSeries:
		return SeriesTable(*t), nil
	case model.ClusterReport:
		return ClusterTable(t), nil
	case *model.ClusterReport:
		return ClusterTable(*t), nil
	}
	return Table{}, eris.Errorf("export: cannot tabulate %T", v)
}

var mgciHeader = []string{
	"region_id", "region_name", "period", "start", "end", "resolution_m",
	"mountain_area_km2", "green_area_km2", "pct",
}

func mgciRow(r model.MgciResult) []any {
	var pct any
	if r.Pct != nil {
		pct = *r.Pct
	}
	return []any{
		r.Region.ID, r.Region.Name, r.Period.String(),
		r.Period.Start.Format(model.DateLayout), r.Period.End.Format(model.DateLayout),
		r.ResolutionM, r.MountainAreaKM2(), r.GreenAreaKM2(), pct,
	}
}

// MgciTable has one row per result.
func MgciTable(results ...model.MgciResult) Table {
	t := Table{Name: "mgci", Header: mgciHeader}
	for _, r := range results {
		t.Rows = append(t.Rows, mgciRow(r))
	}
	return t
}

// SeriesTable has one row per period; failed periods keep their row with
// empty values and the error.
func SeriesTable(s model.TimeSeries) Table {
	t := Table{Name: "series", Header: append(append([]string{}, mgciHeader...), "error")}
	for _, e := range s.Entries {
		if e.Result != nil {
			t.Rows = append(t.Rows, append(mgciRow(*e.Result), nil))
			continue
		}
		t.Rows = append(t.Rows, []any{
			s.Region.ID, s.Region.Name, e.Period.String(),
			e.Period.Start.Format(model.DateLayout), e.Period.End.Format(model.DateLayout),
			s.ResolutionM, nil, nil, nil, e.Error,
		})
	}
	return t
}

// ClusterTable has one row per assignment followed by one per excluded
// subregion, whose cluster cell is empty.
func ClusterTable(r model.ClusterReport) Table {
	t := Table{
		Name:   "clusters",
		Header: []string{"subregion_id", "name", "green_fraction", "elevation_m", "cluster", "error"},
	}
	for _, a := range r.Assignments {
		var elev any
		if a.ElevationSummary != nil {
			elev = *a.ElevationSummary
		}
		t.Rows = append(t.Rows, []any{a.SubregionID, a.Name, a.GreenFraction, elev, a.Cluster, nil})
	}
	for _, x := range r.Excluded {
		t.Rows = append(t.Rows, []any{x.SubregionID, nil, nil, nil, nil, x.Error})
	}
	return t
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	}
	return ""
}

func writeCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	rec := make([]string, len(t.Header))
	for _, row := range t.Rows {
		for i, v := range row {
			rec[i] = cellString(v)
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

func writeXLSX(w io.Writer, t Table) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(t.Name)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}
	header := sheet.AddRow()
	for _, h := range t.Header {
		header.AddCell().SetString(h)
	}
	for _, row := range t.Rows {
		r := sheet.AddRow()
		for _, v := range row {
			c := r.AddCell()
			switch x := v.(type) {
			case float64:
				c.SetFloat(x)
			case int:
				c.SetInt(x)
			case string:
				c.SetString(x)
			}
		}
	}
	return eris.Wrap(file.Write(w), "export: write xlsx")
}
