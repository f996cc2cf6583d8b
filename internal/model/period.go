package model

import (
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// DateLayout is the calendar-date format accepted on the CLI and API.
const DateLayout = "2006-01-02"

// DateRange is a half-open interval [Start, End).
type DateRange struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// NewDateRange returns a validated DateRange in UTC.
func NewDateRange(start, end time.Time) (DateRange, error) {
	if !end.After(start) {
		return DateRange{}, eris.Errorf("model: date range end %s must be after start %s",
			end.Format(DateLayout), start.Format(DateLayout))
	}
	return DateRange{Start: start.UTC(), End: end.UTC()}, nil
}

// ParseDateRange parses two calendar dates.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, eris.Wrapf(err, "model: parse start date %q", start)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, eris.Wrapf(err, "model: parse end date %q", end)
	}
	return NewDateRange(s, e)
}

// Contains reports whether t falls inside the range.
func (d DateRange) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}

func (d DateRange) String() string {
	return d.Start.Format(DateLayout) + "/" + d.End.Format(DateLayout)
}

// Period is a labelled date range, one entry of a time series.
type Period struct {
	Label     string `json:"label" yaml:"label"`
	DateRange `yaml:",inline"`
}

func (p Period) String() string {
	if p.Label != "" {
		return p.Label
	}
	return p.DateRange.String()
}

// YearlyPeriods returns one calendar-year period per year in [from, to].
func YearlyPeriods(from, to int) ([]Period, error) {
	if to < from {
		return nil, eris.Errorf("model: year range %d-%d is reversed", from, to)
	}
	periods := make([]Period, 0, to-from+1)
	for y := from; y <= to; y++ {
		periods = append(periods, Period{
			Label: strconv.Itoa(y),
			DateRange: DateRange{
				Start: time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC),
				End:   time.Date(y+1, time.January, 1, 0, 0, 0, 0, time.UTC),
			},
		})
	}
	return periods, nil
}
