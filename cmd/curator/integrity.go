package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/meridian-news/curator/config"
	"github.com/meridian-news/curator/internal/store"
	"github.com/spf13/cobra"
)

func integrityCMD() *cobra.Command {
	var cfgPath string
	var rebuild bool
	var cmd = &cobra.Command{
		Use:   "integrity",
		Short: "Scan the narrative hierarchy for invariant violations",
		RunE: func(c *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := store.NewWithDSN(ctx, dsn)
			if err != nil {
				return err
			}
			defer st.DB.Close()

			report, err := st.ValidateIntegrity(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}

			drifted, err := st.DetectCacheDrift(ctx)
			if err != nil {
				return err
			}
			if len(drifted) > 0 {
				fmt.Printf("hierarchy cache drift on %d roots\n", len(drifted))
				if rebuild {
					if err := st.RefreshHierarchyCache(ctx); err != nil {
						return err
					}
					fmt.Println("cache rebuilt")
				}
			}
			if !report.Healthy() {
				return fmt.Errorf("integrity violations found")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild-cache", false, "rebuild the hierarchy cache when drift is found")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
