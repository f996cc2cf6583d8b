package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/mgci/internal/mgci"
	"github.com/sells-group/mgci/internal/resolution"
)

var seriesCmd = &cobra.Command{
	Use:     "series",
	Short:   "Compute one MGCI per calendar year",
	Example: `  mgci series --region "Aseer" --from 2017 --to 2023`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := resolutionFromFlags(cmd)
		if err != nil {
			return err
		}
		region, _ := cmd.Flags().GetString("region")
		from, _ := cmd.Flags().GetInt("from")
		to, _ := cmd.Flags().GetInt("to")

		e, err := initService(ctx, cfg)
		if err != nil {
			return err
		}
		defer e.Close()

		resp, err := e.Service.Series(ctx, mgci.SeriesRequest{
			Region:     region,
			FromYear:   from,
			ToYear:     to,
			Resolution: res,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		path, _ := cmd.Flags().GetString("output")
		format, _ := cmd.Flags().GetString("format")
		if done, err := writeExport(out, path, format, resp.Series); done || err != nil {
			return err
		}
		formatSeries(out, resp)
		return nil
	},
}

func init() {
	addComputeFlags(seriesCmd, resolution.Preview)
	seriesCmd.Flags().Int("from", 0, "first year, inclusive")
	seriesCmd.Flags().Int("to", 0, "last year, inclusive")
	_ = seriesCmd.MarkFlagRequired("from")
	_ = seriesCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(seriesCmd)
}
