package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mgci/internal/config"
	"github.com/sells-group/mgci/internal/model"
	"github.com/sells-group/mgci/internal/region"
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "Inspect and import boundary catalogs",
}

var regionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List regions from the configured catalogs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		catalog, err := initCatalog(ctx, cfg, st)
		if err != nil {
			return err
		}

		level, _ := cmd.Flags().GetInt("level")
		parent, _ := cmd.Flags().GetString("parent")

		var regions []model.Region
		if parent != "" {
			p, err := catalog.Resolve(ctx, parent)
			if err != nil {
				return err
			}
			regions, err = catalog.Children(ctx, p)
			if err != nil {
				return err
			}
		} else {
			regions, err = catalog.List(ctx, level)
			if err != nil {
				return err
			}
		}

		formatRegions(cmd.OutOrStdout(), regions)
		return nil
	},
}

var regionsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Load boundary files into the PostGIS regions table",
	Long:  "Reads every configured geojson, shapefile and zip source and upserts the regions into mgci.regions. Requires store.driver postgres.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Store.Driver != config.StorePostgres {
			return eris.New("regions import requires store.driver postgres")
		}
		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		loader := &region.Loader{Fetcher: newFetcher(cfg), CacheDir: cfg.Regions.CacheDir}
		var total int64
		for _, src := range cfg.Regions.Sources {
			if src.Format == region.FormatPostGIS {
				continue
			}
			regions, err := loader.LoadSource(ctx, src)
			if err != nil {
				return err
			}
			n, err := region.Import(ctx, storePool(st), regions, cfg.Regions.BatchSize)
			total += n
			if err != nil {
				return eris.Wrapf(err, "import %s", src)
			}
			zap.L().Info("regions: imported source", zap.String("source", src.String()), zap.Int64("rows", n))
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d regions into %s\n", total, region.RegionsTable)
		return nil
	},
}

func init() {
	regionsListCmd.Flags().Int("level", -1, "only list regions at this level (-1 for all)")
	regionsListCmd.Flags().String("parent", "", "list the subregions of this region instead")

	regionsCmd.AddCommand(regionsListCmd)
	regionsCmd.AddCommand(regionsImportCmd)
	rootCmd.AddCommand(regionsCmd)
}
