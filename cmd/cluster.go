package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/mgci/internal/mgci"
	"github.com/sells-group/mgci/internal/resolution"
)

var clusterCmd = &cobra.Command{
	Use:     "cluster",
	Short:   "Group a region's subregions by greenness",
	Example: `  mgci cluster --region SAU --start 2020-01-01 --end 2021-01-01 --features green_elevation`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req, err := computeRequestFromFlags(cmd)
		if err != nil {
			return err
		}
		features, _ := cmd.Flags().GetString("features")

		e, err := initService(ctx, cfg)
		if err != nil {
			return err
		}
		defer e.Close()

		resp, err := e.Service.Cluster(ctx, mgci.ClusterRequest{
			Region:     req.Region,
			Start:      req.Start,
			End:        req.End,
			Features:   features,
			Resolution: req.Resolution,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		path, _ := cmd.Flags().GetString("output")
		format, _ := cmd.Flags().GetString("format")
		if done, err := writeExport(out, path, format, resp.Report); done || err != nil {
			return err
		}
		formatCluster(out, resp)
		return nil
	},
}

func init() {
	addComputeFlags(clusterCmd, resolution.Standard)
	clusterCmd.Flags().String("start", "", "first day, inclusive (YYYY-MM-DD)")
	clusterCmd.Flags().String("end", "", "last day, exclusive (YYYY-MM-DD)")
	clusterCmd.Flags().String("features", "", "feature vector (green, green_elevation); default from config")
	_ = clusterCmd.MarkFlagRequired("start")
	_ = clusterCmd.MarkFlagRequired("end")
	rootCmd.AddCommand(clusterCmd)
}
