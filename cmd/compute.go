package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/mgci/internal/mgci"
	"github.com/sells-group/mgci/internal/resolution"
)

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute the MGCI of a region over a date range",
	Example: `  mgci compute --region "Aseer" --start 2020-01-01 --end 2021-01-01
  mgci compute --region bbox:42,17,44,19 --start 2020-01-01 --end 2021-01-01 --intent final -o out.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req, err := computeRequestFromFlags(cmd)
		if err != nil {
			return err
		}

		e, err := initService(ctx, cfg)
		if err != nil {
			return err
		}
		defer e.Close()

		resp, err := e.Service.Compute(ctx, req)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		path, _ := cmd.Flags().GetString("output")
		format, _ := cmd.Flags().GetString("format")
		if done, err := writeExport(out, path, format, resp.Result); done || err != nil {
			return err
		}
		formatCompute(out, resp)
		return nil
	},
}

func computeRequestFromFlags(cmd *cobra.Command) (mgci.ComputeRequest, error) {
	res, err := resolutionFromFlags(cmd)
	if err != nil {
		return mgci.ComputeRequest{}, err
	}
	region, _ := cmd.Flags().GetString("region")
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	return mgci.ComputeRequest{Region: region, Start: start, End: end, Resolution: res}, nil
}

// resolutionFromFlags reads the shared --intent and --resolution flags.
func resolutionFromFlags(cmd *cobra.Command) (mgci.Resolution, error) {
	intent, err := cmd.Flags().GetString("intent")
	if err != nil {
		return mgci.Resolution{}, err
	}
	meters, err := cmd.Flags().GetFloat64("resolution")
	if err != nil {
		return mgci.Resolution{}, err
	}
	return mgci.Resolution{Intent: intent, ResolutionM: meters}, nil
}

// addComputeFlags registers the flags shared by compute, series and cluster.
func addComputeFlags(cmd *cobra.Command, intent resolution.Intent) {
	cmd.Flags().String("region", "", "region name, id, or bbox:minLon,minLat,maxLon,maxLat")
	cmd.Flags().String("intent", string(intent), "resolution intent (preview, standard, final)")
	cmd.Flags().Float64("resolution", 0, "explicit resolution in meters (overrides --intent)")
	cmd.Flags().StringP("output", "o", "", "write the result to a file (.json, .yaml, .csv, .xlsx)")
	cmd.Flags().String("format", "", "output format (json, yaml, csv, xlsx); default is a text summary")
	_ = cmd.MarkFlagRequired("region")
}

func init() {
	addComputeFlags(computeCmd, resolution.Preview)
	computeCmd.Flags().String("start", "", "first day, inclusive (YYYY-MM-DD)")
	computeCmd.Flags().String("end", "", "last day, exclusive (YYYY-MM-DD)")
	_ = computeCmd.MarkFlagRequired("start")
	_ = computeCmd.MarkFlagRequired("end")
	rootCmd.AddCommand(computeCmd)
}
