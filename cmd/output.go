package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mgci/internal/export"
	"github.com/sells-group/mgci/internal/mgci"
	"github.com/sells-group/mgci/internal/model"
)

// writeExport encodes v to path, or to stdout when path is empty. The
// format flag wins over the path extension. It reports false when neither
// is set and the caller should print its human summary instead.
func writeExport(stdout io.Writer, path, format string, v any) (bool, error) {
	if path == "" && format == "" {
		return false, nil
	}
	f := export.FormatForPath(path)
	if format != "" {
		var err error
		if f, err = export.ParseFormat(format); err != nil {
			return true, err
		}
	}
	if path == "" {
		return true, export.Write(stdout, f, v)
	}

	out, err := os.Create(path)
	if err != nil {
		return true, eris.Wrapf(err, "create %s", path)
	}
	if err := export.Write(out, f, v); err != nil {
		_ = out.Close()
		return true, err
	}
	if err := out.Close(); err != nil {
		return true, eris.Wrapf(err, "close %s", path)
	}
	_, _ = fmt.Fprintf(stdout, "Wrote %s (%s)\n", path, f)
	return true, nil
}

func formatPct(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", *p)
}

func elapsed(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Millisecond).String()
}

// formatCompute writes the summary of a single computation.
func formatCompute(out io.Writer, resp *mgci.ComputeResponse) {
	r := resp.Result
	_, _ = fmt.Fprintf(out, "Region: %s (%s)\n", r.Region.Name, r.Region.ID)
	_, _ = fmt.Fprintf(out, "Period: %s at %.0f m (%s)\n", r.Period.DateRange, r.ResolutionM, resp.Plan.Intent)
	_, _ = fmt.Fprintf(out, "Mountain area = %.2f km²; green area = %.2f km²\n", r.MountainAreaKM2(), r.GreenAreaKM2())
	if r.Computable() {
		_, _ = fmt.Fprintf(out, "MGCI = %s\n", formatPct(r.Pct))
	} else {
		_, _ = fmt.Fprintln(out, "MGCI not computable: the region has no mountain area")
	}
	_, _ = fmt.Fprintf(out, "Elapsed: %s\n", elapsed(resp.ElapsedMS))
	if resp.RunID != "" {
		_, _ = fmt.Fprintf(out, "Run: %s\n", resp.RunID)
	}
}

// formatSeries writes one row per period.
func formatSeries(out io.Writer, resp *mgci.SeriesResponse) {
	s := resp.Series
	_, _ = fmt.Fprintf(out, "Region: %s (%s) at %.0f m\n", s.Region.Name, s.Region.ID, s.ResolutionM)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PERIOD\tMOUNTAIN_KM2\tGREEN_KM2\tMGCI\tERROR")
	_, _ = fmt.Fprintln(w, "------\t------------\t---------\t----\t-----")
	for _, e := range s.Entries {
		if e.Missing() {
			_, _ = fmt.Fprintf(w, "%s\t-\t-\t-\t%s\n", e.Period.Label, e.Error)
			continue
		}
		r := e.Result
		_, _ = fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%s\t\n", e.Period.Label, r.MountainAreaKM2(), r.GreenAreaKM2(), formatPct(r.Pct))
	}
	_ = w.Flush()

	if n := s.MissingCount(); n > 0 {
		_, _ = fmt.Fprintf(out, "%d of %d periods failed\n", n, len(s.Entries))
	}
	_, _ = fmt.Fprintf(out, "Elapsed: %s\n", elapsed(resp.ElapsedMS))
}

// formatCluster writes the assignments, greenest first, then the excluded
// subregions.
func formatCluster(out io.Writer, resp *mgci.ClusterResponse) {
	rep := resp.Report
	_, _ = fmt.Fprintf(out, "Parent: %s (%s), %s, k=%d, features=%s\n",
		rep.Parent.Name, rep.Parent.ID, rep.DateRange, rep.K, rep.Features)
	if len(rep.Assignments) == 0 {
		_, _ = fmt.Fprintln(out, "Too few subregions to cluster")
	}

	rows := append([]model.ClusterAssignment(nil), rep.Assignments...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].GreenFraction > rows[j].GreenFraction })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SUBREGION\tNAME\tGREEN\tELEVATION_M\tCLUSTER")
	_, _ = fmt.Fprintln(w, "---------\t----\t-----\t-----------\t-------")
	for _, a := range rows {
		elev := "-"
		if a.ElevationSummary != nil {
			elev = fmt.Sprintf("%.0f", *a.ElevationSummary)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.3f\t%s\t%d\n", a.SubregionID, a.Name, a.GreenFraction, elev, a.Cluster)
	}
	_ = w.Flush()

	for _, x := range rep.Excluded {
		_, _ = fmt.Fprintf(out, "Excluded %s: %s\n", x.SubregionID, x.Error)
	}
	_, _ = fmt.Fprintf(out, "Elapsed: %s\n", elapsed(resp.ElapsedMS))
}

// formatRegions writes a tabular list of regions.
func formatRegions(out io.Writer, regions []model.Region) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tLEVEL\tPARENT\tBBOX")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t------\t----")
	for _, r := range regions {
		b := r.BBox()
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%.2f,%.2f,%.2f,%.2f\n",
			r.ID, r.Name, r.Level, r.Parent, b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
	}
	_ = w.Flush()
}

// formatRunsList writes a tabular list of runs to out.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tSTATUS\tCREATED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t-------\t--------\t-----")

	for _, r := range runs {
		msg := r.Error
		if len(msg) > 40 {
			msg = msg[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Kind,
			r.Status,
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.Elapsed().Round(time.Millisecond),
			msg,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
