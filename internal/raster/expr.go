// Package raster defines the lazy raster expression graph and the engine
// interface that evaluates it. Building an expression is local and cheap;
// the only blocking call is Engine.ReduceRegion.
package raster

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mgci/internal/model"
)

// Op names one node type of the expression graph. The string values are the
// wire names used by the remote engine.
type Op string

const (
	OpLoad           Op = "load"
	OpSeries         Op = "series"
	OpRemap          Op = "remap"
	OpTemporalReduce Op = "temporal_reduce"
	OpMask           Op = "mask"
	OpGreaterEq      Op = "gte"
	OpLess           Op = "lt"
	OpAnd            Op = "and"
	OpOr             Op = "or"
	OpMultiply       Op = "multiply"
	OpPixelArea      Op = "pixel_area"
	OpConstant       Op = "constant"
)

// Reducer is a spatial or temporal aggregation operator.
type Reducer string

const (
	ReducerSum  Reducer = "sum"
	ReducerMean Reducer = "mean"
	ReducerMode Reducer = "mode"
)

// Expr is one node of the graph. Nodes are never mutated after construction
// and may be shared between graphs.
type Expr struct {
	Op      Op          `json:"op"`
	Dataset string      `json:"dataset,omitempty"`
	Band    string      `json:"band,omitempty"`
	Start   *time.Time  `json:"start,omitempty"`
	End     *time.Time  `json:"end,omitempty"`
	Bounds  *model.BBox `json:"bounds,omitempty"`
	From    []int       `json:"from,omitempty"`
	To      []float64   `json:"to,omitempty"`
	Default *float64    `json:"default,omitempty"`
	Reducer Reducer     `json:"reducer,omitempty"`
	Value   *float64    `json:"value,omitempty"`
	Args    []*Expr     `json:"args,omitempty"`
}

// Image is a single-band raster expression.
type Image struct {
	expr *Expr
}

// Series is a time-indexed stack of single-band raster expressions.
type Series struct {
	expr *Expr
}

// Expr returns the root node. Engines walk it; callers must not modify it.
func (i Image) Expr() *Expr { return i.expr }

// IsZero reports whether the image was never built.
func (i Image) IsZero() bool { return i.expr == nil }

// MarshalJSON encodes the graph rooted at the image.
func (i Image) MarshalJSON() ([]byte, error) { return json.Marshal(i.expr) }

// Expr returns the root node of the series.
func (s Series) Expr() *Expr { return s.expr }

// MarshalJSON encodes the graph rooted at the series.
func (s Series) MarshalJSON() ([]byte, error) { return json.Marshal(s.expr) }

func f64(v float64) *float64 { return &v }

// LoadRaster addresses a fixed single-band dataset such as a DEM.
func LoadRaster(datasetID string) Image {
	return Image{&Expr{Op: OpLoad, Dataset: datasetID}}
}

// LoadImageSeries addresses the observations of datasetID whose timestamp is
// inside dr and whose footprint intersects bounds, reading one band.
func LoadImageSeries(datasetID, band string, dr model.DateRange, bounds model.BBox) Series {
	start, end := dr.Start, dr.End
	return Series{&Expr{
		Op:      OpSeries,
		Dataset: datasetID,
		Band:    band,
		Start:   &start,
		End:     &end,
		Bounds:  &bounds,
	}}
}

// RemapLabels maps each categorical value in from to the matching entry of to;
// every other value becomes def.
func RemapLabels(s Series, from []int, to []float64, def float64) (Series, error) {
	if len(from) != len(to) {
		return Series{}, eris.Errorf("raster: remap: %d source labels but %d targets", len(from), len(to))
	}
	if s.expr == nil {
		return Series{}, eris.New("raster: remap: empty series")
	}
	return Series{&Expr{
		Op:      OpRemap,
		From:    append([]int(nil), from...),
		To:      append([]float64(nil), to...),
		Default: f64(def),
		Args:    []*Expr{s.expr},
	}}, nil
}

// TemporalReduce collapses the series to one image per pixel.
func TemporalReduce(s Series, r Reducer) Image {
	return Image{&Expr{Op: OpTemporalReduce, Reducer: r, Args: []*Expr{s.expr}}}
}

// Mask keeps pixels of img where mask is valid and non-zero.
func Mask(img, mask Image) Image {
	return Image{&Expr{Op: OpMask, Args: []*Expr{img.expr, mask.expr}}}
}

// Threshold returns a 0/1 mask that is 1 where img >= cutoff.
func Threshold(img Image, cutoff float64) Image {
	return GreaterEq(img, cutoff)
}

// GreaterEq returns 1 where img >= v, else 0.
func GreaterEq(img Image, v float64) Image {
	return Image{&Expr{Op: OpGreaterEq, Value: f64(v), Args: []*Expr{img.expr}}}
}

// Less returns 1 where img < v, else 0.
func Less(img Image, v float64) Image {
	return Image{&Expr{Op: OpLess, Value: f64(v), Args: []*Expr{img.expr}}}
}

// And returns 1 where every operand is non-zero. A zero operand decides the
// pixel even when others have no data.
func And(imgs ...Image) Image {
	return Image{&Expr{Op: OpAnd, Args: exprs(imgs)}}
}

// Or returns 1 where any operand is non-zero. A non-zero operand decides the
// pixel even when others have no data.
func Or(imgs ...Image) Image {
	return Image{&Expr{Op: OpOr, Args: exprs(imgs)}}
}

// Multiply returns the per-pixel product.
func Multiply(a, b Image) Image {
	return Image{&Expr{Op: OpMultiply, Args: []*Expr{a.expr, b.expr}}}
}

// PixelArea is the ground area of each sampling pixel in square meters.
func PixelArea() Image {
	return Image{&Expr{Op: OpPixelArea}}
}

// Constant is an image with the same value everywhere.
func Constant(v float64) Image {
	return Image{&Expr{Op: OpConstant, Value: f64(v)}}
}

func exprs(imgs []Image) []*Expr {
	out := make([]*Expr, len(imgs))
	for i, img := range imgs {
		out[i] = img.expr
	}
	return out
}
