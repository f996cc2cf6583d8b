package memory

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mgci/internal/raster"
)

// pixel is the sampling context of one grid cell.
type pixel struct {
	lon, lat float64
	area     float64
}

type imageFn func(p pixel) (float64, bool)

// seriesFn appends the valid samples of every observation at p to buf.
// Masked observations contribute nothing.
type seriesFn func(p pixel, buf []float64) []float64

func (e *Engine) compileImage(x *raster.Expr) (imageFn, error) {
	if x == nil {
		return nil, eris.New("memory: nil image node")
	}
	switch x.Op {
	case raster.OpLoad:
		r, ok := e.scene.raster(x.Dataset)
		if !ok {
			return nil, eris.Errorf("memory: unknown raster dataset %q", x.Dataset)
		}
		layer := r.Layer
		return func(p pixel) (float64, bool) { return layer.At(p.lon, p.lat) }, nil

	case raster.OpConstant:
		v := value(x)
		return func(pixel) (float64, bool) { return v, true }, nil

	case raster.OpPixelArea:
		return func(p pixel) (float64, bool) { return p.area, true }, nil

	case raster.OpTemporalReduce:
		src, err := e.compileSeries(arg(x, 0))
		if err != nil {
			return nil, err
		}
		reduce, err := temporalReducer(x.Reducer)
		if err != nil {
			return nil, err
		}
		return func(p pixel) (float64, bool) {
			samples := src(p, nil)
			if len(samples) == 0 {
				return 0, false
			}
			return reduce(samples), true
		}, nil

	case raster.OpMask:
		args, err := e.compileArgs(x, 2)
		if err != nil {
			return nil, err
		}
		img, mask := args[0], args[1]
		return func(p pixel) (float64, bool) {
			m, ok := mask(p)
			if !ok || m == 0 {
				return 0, false
			}
			return img(p)
		}, nil

	case raster.OpGreaterEq, raster.OpLess:
		args, err := e.compileArgs(x, 1)
		if err != nil {
			return nil, err
		}
		src, cut, gte := args[0], value(x), x.Op == raster.OpGreaterEq
		return func(p pixel) (float64, bool) {
			v, ok := src(p)
			if !ok {
				return 0, false
			}
			return boolValue((v >= cut) == gte), true
		}, nil

	case raster.OpAnd, raster.OpOr:
		if len(x.Args) == 0 {
			return nil, eris.Errorf("memory: %s needs at least one operand", x.Op)
		}
		args, err := e.compileArgs(x, len(x.Args))
		if err != nil {
			return nil, err
		}
		// Three-valued: a zero operand decides And and a non-zero one decides
		// Or, even when other operands have no data.
		isAnd := x.Op == raster.OpAnd
		return func(p pixel) (float64, bool) {
			undecided := false
			for _, a := range args {
				v, ok := a(p)
				if !ok {
					undecided = true
					continue
				}
				if (v != 0) != isAnd {
					return boolValue(!isAnd), true
				}
			}
			if undecided {
				return 0, false
			}
			return boolValue(isAnd), true
		}, nil

	case raster.OpMultiply:
		args, err := e.compileArgs(x, 2)
		if err != nil {
			return nil, err
		}
		a, b := args[0], args[1]
		return func(p pixel) (float64, bool) {
			va, ok := a(p)
			if !ok {
				return 0, false
			}
			vb, ok := b(p)
			if !ok {
				return 0, false
			}
			return va * vb, true
		}, nil
	}
	return nil, eris.Errorf("memory: %q is not an image operation", x.Op)
}

func (e *Engine) compileSeries(x *raster.Expr) (seriesFn, error) {
	if x == nil {
		return nil, eris.New("memory: nil series node")
	}
	switch x.Op {
	case raster.OpSeries:
		ser, ok := e.scene.series(x.Dataset, x.Band)
		if !ok {
			return nil, eris.Errorf("memory: unknown series %s/%s", x.Dataset, x.Band)
		}
		layers := selectObservations(ser, x)
		return func(p pixel, buf []float64) []float64 {
			for _, l := range layers {
				if v, ok := l.At(p.lon, p.lat); ok {
					buf = append(buf, v)
				}
			}
			return buf
		}, nil

	case raster.OpRemap:
		src, err := e.compileSeries(arg(x, 0))
		if err != nil {
			return nil, err
		}
		if len(x.From) != len(x.To) {
			return nil, eris.New("memory: remap table length mismatch")
		}
		table := make(map[int]float64, len(x.From))
		for i, from := range x.From {
			table[from] = x.To[i]
		}
		def := 0.0
		if x.Default != nil {
			def = *x.Default
		}
		return func(p pixel, buf []float64) []float64 {
			start := len(buf)
			buf = src(p, buf)
			for i := start; i < len(buf); i++ {
				if to, ok := table[int(math.Round(buf[i]))]; ok {
					buf[i] = to
				} else {
					buf[i] = def
				}
			}
			return buf
		}, nil
	}
	return nil, eris.Errorf("memory: %q is not a series operation", x.Op)
}

func (e *Engine) compileArgs(x *raster.Expr, n int) ([]imageFn, error) {
	if len(x.Args) != n {
		return nil, eris.Errorf("memory: %s expects %d operands, got %d", x.Op, n, len(x.Args))
	}
	out := make([]imageFn, n)
	for i, a := range x.Args {
		fn, err := e.compileImage(a)
		if err != nil {
			return nil, err
		}
		out[i] = fn
	}
	return out, nil
}

// selectObservations keeps the observations dated inside the node's range
// whose footprint intersects its bounds.
func selectObservations(ser *ImageSeries, x *raster.Expr) []Layer {
	var out []Layer
	for _, obs := range ser.Observations {
		if x.Start != nil && obs.Date.Before(*x.Start) {
			continue
		}
		if x.End != nil && !obs.Date.Before(*x.End) {
			continue
		}
		if x.Bounds != nil {
			if fp, ok := obs.Footprint(); ok && !fp.Intersects(*x.Bounds) {
				continue
			}
		}
		out = append(out, obs.Layer)
	}
	return out
}

func temporalReducer(r raster.Reducer) (func([]float64) float64, error) {
	switch r {
	case raster.ReducerMean:
		return func(v []float64) float64 {
			sum := 0.0
			for _, x := range v {
				sum += x
			}
			return sum / float64(len(v))
		}, nil
	case raster.ReducerMode:
		return mode, nil
	}
	return nil, eris.Errorf("memory: unsupported temporal reducer %q", r)
}

// mode returns the most frequent value; ties go to the smallest value.
func mode(v []float64) float64 {
	sorted := append([]float64(nil), v...)
	sort.Float64s(sorted)
	best, bestN := sorted[0], 0
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j] == sorted[i] {
			j++
		}
		if j-i > bestN {
			best, bestN = sorted[i], j-i
		}
		i = j
	}
	return best
}

func arg(x *raster.Expr, i int) *raster.Expr {
	if i >= len(x.Args) {
		return nil
	}
	return x.Args[i]
}

func value(x *raster.Expr) float64 {
	if x.Value == nil {
		return 0
	}
	return *x.Value
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
