// Package aggregate reduces masks to areas and forms the MGCI ratio.
package aggregate

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/mgci/internal/classify"
	"github.com/sells-group/mgci/internal/model"
	"github.com/sells-group/mgci/internal/raster"
	"github.com/sells-group/mgci/internal/resolution"
)

// Aggregator turns mask expressions into scalar areas through an engine.
type Aggregator struct {
	engine raster.Engine
}

// New returns an Aggregator over engine.
func New(engine raster.Engine) *Aggregator {
	return &Aggregator{engine: engine}
}

// Area weights the per-pixel area by a 0/1 mask or a fractional raster and
// sums it over region. An empty intersection is 0, not an error.
func (a *Aggregator) Area(ctx context.Context, img raster.Image, region model.Region, plan resolution.Plan) (float64, error) {
	red, err := a.engine.ReduceRegion(ctx, raster.ReduceRequest{
		Image:        raster.Multiply(img, raster.PixelArea()),
		Region:       region,
		Reducer:      raster.ReducerSum,
		ResolutionM:  plan.ResolutionM,
		PixelCeiling: plan.PixelCeiling,
		Label:        plan.CacheKey,
	})
	if err != nil {
		return 0, err
	}
	return red.OrZero(), nil
}

// Mean averages img over region. The result is invalid when no pixel
// contributed.
func (a *Aggregator) Mean(ctx context.Context, img raster.Image, region model.Region, plan resolution.Plan) (raster.Reduction, error) {
	return a.engine.ReduceRegion(ctx, raster.ReduceRequest{
		Image:        img,
		Region:       region,
		Reducer:      raster.ReducerMean,
		ResolutionM:  plan.ResolutionM,
		PixelCeiling: plan.PixelCeiling,
		Label:        plan.CacheKey,
	})
}

// MGCI aggregates the green area inside the mountain mask and the mountain
// area, then forms the ratio. green may be a fraction or a 0/1 mask.
// Failures carry the region, period and resolution they happened at.
func (a *Aggregator) MGCI(ctx context.Context, green raster.Image, mountain classify.MountainMask,
	period model.Period, plan resolution.Plan) (model.MgciResult, error) {
	region := mountain.Region
	opErr := func(err error) error {
		return &model.OpError{
			Op:          "mgci",
			Region:      region.String(),
			Period:      period.String(),
			ResolutionM: plan.ResolutionM,
			Err:         err,
		}
	}

	mountainArea, err := a.Area(ctx, mountain.Image, region, plan)
	if err != nil {
		return model.MgciResult{}, opErr(err)
	}
	greenArea, err := a.Area(ctx, raster.Mask(green, mountain.Image), region, plan)
	if err != nil {
		return model.MgciResult{}, opErr(err)
	}

	areas := model.AreaResult{GreenAreaM2: greenArea, MountainAreaM2: mountainArea}
	if !areas.Consistent() {
		zap.L().Warn("aggregate: green area exceeds mountain area",
			zap.String("region", region.ID),
			zap.String("period", period.String()),
			zap.Float64("resolution_m", plan.ResolutionM),
			zap.Float64("green_area_m2", greenArea),
			zap.Float64("mountain_area_m2", mountainArea),
		)
	}
	return model.NewMgciResult(region, period, plan.ResolutionM, areas), nil
}
