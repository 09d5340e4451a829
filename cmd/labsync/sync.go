package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/labsync/labsync/internal/config"
	"github.com/labsync/labsync/internal/domain/catalog"
	"github.com/labsync/labsync/internal/domain/orders"
	"github.com/labsync/labsync/internal/domain/pricing"
	"github.com/labsync/labsync/internal/nacpp"
	"github.com/labsync/labsync/internal/platform/db"
)

func addUpstreamFlags(cmd *cobra.Command) {
	cmd.Flags().String("base", "", "Upstream base URL (overrides NACPP_BASE_URL)")
	cmd.Flags().String("login", "", "Upstream login (overrides NACPP_LOGIN)")
	cmd.Flags().String("password", "", "Upstream password (overrides NACPP_PASSWORD)")
}

func upstreamConfig(cmd *cobra.Command, cfg *config.Config) (nacpp.Config, error) {
	if base, _ := cmd.Flags().GetString("base"); base != "" {
		cfg.NacppBaseURL = strings.TrimRight(base, "/")
	}
	if login, _ := cmd.Flags().GetString("login"); login != "" {
		cfg.NacppLogin = login
	}
	if password, _ := cmd.Flags().GetString("password"); password != "" {
		cfg.NacppPassword = password
	}
	if err := cfg.Validate(); err != nil {
		return nacpp.Config{}, err
	}
	return nacpp.Config{
		BaseURL:       cfg.NacppBaseURL,
		Login:         cfg.NacppLogin,
		Password:      cfg.NacppPassword,
		LoginPath:     cfg.NacppLoginPath,
		LoginField:    cfg.NacppLoginField,
		PasswordField: cfg.NacppPasswordField,
		RequireCSRF:   cfg.NacppRequireCSRF,
		Timeout:       cfg.HTTPTimeout(),
		Retries:       cfg.NacppRetries,
		Backoff:       cfg.NacppRetryBackoff,
	}, nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func delimiterRune(s string) rune {
	if s == "" {
		return ';'
	}
	return []rune(s)[0]
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize data from the upstream lab system",
	}
	cmd.AddCommand(syncCatalogsCmd())
	cmd.AddCommand(syncPricesCmd())
	cmd.AddCommand(syncPricesCSVCmd())
	cmd.AddCommand(syncOrdersCmd())
	cmd.AddCommand(syncAllCmd())
	return cmd
}

func syncCatalogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalogs",
		Short: "Pull reference catalogs (containers, tests, panels, preanalytics)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := context.Background()

			ncfg, err := upstreamConfig(cmd, cfg)
			if err != nil {
				return err
			}

			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			client, err := nacpp.Connect(ctx, ncfg, logger)
			if err != nil {
				return err
			}
			defer client.Close(ctx)

			rec := catalog.NewReconciler(client, catalog.NewRepoPG(pool),
				&db.PoolTxRunner{Pool: pool}, logger)
			sum, err := rec.Run(ctx)
			printCatalogSummary(sum)
			return err
		},
	}
	addUpstreamFlags(cmd)
	return cmd
}

func printCatalogSummary(sum *catalog.Summary) {
	if sum == nil {
		return
	}
	row := func(name string, s catalog.StageStats) {
		fmt.Printf("%-14s created=%d updated=%d unchanged=%d skipped=%d invalid=%d\n",
			name, s.Created, s.Updated, s.Unchanged, s.Skipped, s.Invalid)
	}
	row("containers", sum.Containers)
	row("tests", sum.Tests)
	row("analytes", sum.Analytes)
	row("categories", sum.Categories)
	row("panels", sum.Panels)
	row("materials", sum.Materials)
	row("panel tests", sum.PanelTests)
	row("preanalytics", sum.Preanalytics)
	row("requirements", sum.Requirements)
	row("linked", sum.Linked)
	if sum.PanelsFKMissing > 0 {
		fmt.Printf("panels with unknown category: %d\n", sum.PanelsFKMissing)
	}
}

func syncPricesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Discover the remote price list and sync Service rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := context.Background()

			ncfg, err := upstreamConfig(cmd, cfg)
			if err != nil {
				return err
			}

			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			client, err := nacpp.Connect(ctx, ncfg, logger)
			if err != nil {
				return err
			}
			defer client.Close(ctx)

			candidates, err := client.DiscoverPriceEndpoints(ctx)
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				// The API route set came up empty; fall back to scanning
				// conventional HTML price pages.
				logger.Warn().Msg("price API silent, trying HTML pages")
				for _, p := range client.ProbePricePages(ctx, nil) {
					if p.Err == nil && p.Status == 200 && p.Body != "" {
						candidates = append(candidates, nacpp.PriceCandidate{Body: p.Body})
					}
				}
			}

			var rows []nacpp.PriceRow
			for _, cand := range candidates {
				rows = append(rows, nacpp.ParsePricePayload(cand.Body, cfg.DefaultCurrency)...)
			}
			if len(rows) == 0 {
				return fmt.Errorf("no recognizable price payload found, try 'labsync probe prices'")
			}

			rec := pricing.NewReconciler(pricing.NewRepoPG(pool),
				&db.PoolTxRunner{Pool: pool}, logger)
			stats, err := rec.SyncRemote(ctx, rows, cfg.DefaultCurrency)
			if err != nil {
				return err
			}
			fmt.Printf("price rows synced: total=%d created=%d updated=%d invalid=%d\n",
				stats.Total, stats.Created, stats.Updated, stats.Invalid)
			return nil
		},
	}
	addUpstreamFlags(cmd)
	return cmd
}

func syncPricesCSVCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices-csv CSV",
		Short: "Merge service prices from a CSV file, optionally plus panel prices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := context.Background()

			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			flags := cmd.Flags()
			delimiter, _ := flags.GetString("delimiter")
			encoding, _ := flags.GetString("encoding")
			currency, _ := flags.GetString("currency")
			colCode, _ := flags.GetString("col-code")
			colPrice, _ := flags.GetString("col-price")
			colCurrency, _ := flags.GetString("col-currency")
			createMissing, _ := flags.GetBool("create-missing")
			dryRun, _ := flags.GetBool("dry-run")
			if currency == "" {
				currency = cfg.DefaultCurrency
			}

			rows, invalid, err := pricing.LoadServicesCSV(args[0], pricing.CSVOptions{
				Delimiter:       delimiterRune(delimiter),
				Encoding:        encoding,
				DefaultCurrency: currency,
				ColCode:         colCode,
				ColPrice:        colPrice,
				ColCurrency:     colCurrency,
			})
			if err != nil {
				return err
			}

			rec := pricing.NewReconciler(pricing.NewRepoPG(pool),
				&db.PoolTxRunner{Pool: pool}, logger)

			stats, err := rec.ApplyServicePrices(ctx, rows, pricing.ApplyOptions{
				DefaultCurrency: currency,
				CreateMissing:   createMissing,
				DryRun:          dryRun,
			})
			if err != nil {
				return err
			}
			fmt.Printf("services: rows=%d created=%d updated=%d unchanged=%d skipped=%d invalid=%d\n",
				stats.Rows, stats.Created, stats.Updated, stats.Unchanged, stats.Skipped, invalid)

			panelPath, _ := flags.GetString("panel-prices")
			if panelPath == "" {
				return nil
			}

			panelDelimiter, _ := flags.GetString("panel-delimiter")
			panelEncoding, _ := flags.GetString("panel-encoding")
			panelHasHeader, _ := flags.GetBool("panel-has-header")
			panelOverwrite, _ := flags.GetBool("panel-overwrite")
			if panelEncoding == "" {
				panelEncoding = encoding
			}

			prices, panelInvalid, err := pricing.LoadPanelPricesCSV(
				panelPath, delimiterRune(panelDelimiter), panelEncoding, panelHasHeader)
			if err != nil {
				return err
			}

			pstats, err := rec.ApplyPanelPrices(ctx, prices, pricing.ApplyOptions{
				DefaultCurrency: currency,
				Overwrite:       panelOverwrite,
				DryRun:          dryRun,
			})
			if err != nil {
				return err
			}
			fmt.Printf("panels: rows=%d created=%d updated=%d skipped=%d unmatched=%d invalid=%d\n",
				pstats.Rows, pstats.Created, pstats.Updated, pstats.Skipped,
				pstats.Unmatched, panelInvalid)
			return nil
		},
	}

	cmd.Flags().String("delimiter", ";", "Services CSV delimiter")
	cmd.Flags().String("encoding", "utf-8", "Services CSV encoding (utf-8, cp1251, koi8-r)")
	cmd.Flags().String("currency", "", "Default currency when the CSV has no currency column")
	cmd.Flags().String("col-code", "", "Code column name, overrides auto-detection")
	cmd.Flags().String("col-price", "", "Price column name, overrides auto-detection")
	cmd.Flags().String("col-currency", "", "Currency column name, overrides auto-detection")
	cmd.Flags().Bool("create-missing", false, "Create Service rows for unknown codes")
	cmd.Flags().Bool("dry-run", false, "Compute counts without writing")
	cmd.Flags().String("panel-prices", "", "Path to flat panel-price CSV (code;price)")
	cmd.Flags().String("panel-delimiter", ";", "Panel CSV delimiter")
	cmd.Flags().String("panel-encoding", "", "Panel CSV encoding, defaults to --encoding")
	cmd.Flags().Bool("panel-has-header", false, "Treat the first panel CSV line as a header")
	cmd.Flags().Bool("panel-overwrite", false, "Overwrite non-zero service costs with panel prices")
	return cmd
}

func syncOrdersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Pull orders and released results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := context.Background()

			ncfg, err := upstreamConfig(cmd, cfg)
			if err != nil {
				return err
			}

			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			client, err := nacpp.Connect(ctx, ncfg, logger)
			if err != nil {
				return err
			}
			defer client.Close(ctx)

			onlyPending, _ := cmd.Flags().GetBool("only-pending")
			dateStart, _ := cmd.Flags().GetString("date-start")
			dateEnd, _ := cmd.Flags().GetString("date-end")

			syncer := orders.NewSyncer(client, orders.NewRepoPG(pool),
				catalog.NewRepoPG(pool), &db.PoolTxRunner{Pool: pool}, logger)
			stats, err := syncer.Run(ctx, orders.Options{
				OnlyPending: onlyPending,
				DateStart:   dateStart,
				DateEnd:     dateEnd,
			})
			if err != nil {
				return err
			}
			fmt.Printf("orders=%d panels=%d results=%d failed=%d\n",
				stats.Orders, stats.Panels, stats.Results, stats.Failed)
			return nil
		},
	}
	cmd.Flags().Bool("only-pending", false, "Collect only pending order numbers")
	cmd.Flags().String("date-start", "", "Period start, YYYY/MM/DD")
	cmd.Flags().String("date-end", "", "Period end, YYYY/MM/DD")
	addUpstreamFlags(cmd)
	return cmd
}

// ensureStubServicesCSV guarantees the services file exists and is non-empty
// so the full cycle can run unattended on a fresh install.
func ensureStubServicesCSV(path, delimiter string) error {
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	stub := fmt.Sprintf("code%sprice\nDUMMY%s0\n", delimiter, delimiter)
	return os.WriteFile(path, []byte(stub), 0o644)
}

func syncAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Full cycle: catalogs, then CSV price merge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := context.Background()

			flags := cmd.Flags()
			dryRun, _ := flags.GetBool("dry-run")
			skipCatalogs, _ := flags.GetBool("skip-catalogs")
			skipPrices, _ := flags.GetBool("skip-prices")
			servicesCSV, _ := flags.GetString("services-csv")
			panelPrices, _ := flags.GetString("panel-prices")
			panelHasHeader, _ := flags.GetBool("panel-has-header")
			panelOverwrite, _ := flags.GetBool("panel-overwrite")
			createMissing, _ := flags.GetBool("create-missing-services")

			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if !skipCatalogs {
				ncfg, err := upstreamConfig(cmd, cfg)
				if err != nil {
					return err
				}
				client, err := nacpp.Connect(ctx, ncfg, logger)
				if err != nil {
					return err
				}
				rec := catalog.NewReconciler(client, catalog.NewRepoPG(pool),
					&db.PoolTxRunner{Pool: pool}, logger)
				sum, err := rec.Run(ctx)
				client.Close(ctx)
				printCatalogSummary(sum)
				if err != nil {
					return fmt.Errorf("catalog sync: %w", err)
				}
			}

			if skipPrices {
				return nil
			}

			// Catalogs run for real even with --dry-run; only the price
			// merge is dry.
			if err := ensureStubServicesCSV(servicesCSV, ";"); err != nil {
				return err
			}

			rows, invalid, err := pricing.LoadServicesCSV(servicesCSV, pricing.CSVOptions{
				DefaultCurrency: cfg.DefaultCurrency,
			})
			if err != nil {
				return err
			}

			rec := pricing.NewReconciler(pricing.NewRepoPG(pool),
				&db.PoolTxRunner{Pool: pool}, logger)
			stats, err := rec.ApplyServicePrices(ctx, rows, pricing.ApplyOptions{
				DefaultCurrency: cfg.DefaultCurrency,
				CreateMissing:   createMissing,
				DryRun:          dryRun,
			})
			if err != nil {
				return err
			}
			fmt.Printf("services: rows=%d created=%d updated=%d unchanged=%d skipped=%d invalid=%d\n",
				stats.Rows, stats.Created, stats.Updated, stats.Unchanged, stats.Skipped, invalid)

			if panelPrices == "" {
				return nil
			}
			if _, err := os.Stat(panelPrices); err != nil {
				return fmt.Errorf("panel price file not found: %s", panelPrices)
			}

			prices, panelInvalid, err := pricing.LoadPanelPricesCSV(panelPrices, ';', "", panelHasHeader)
			if err != nil {
				return err
			}
			pstats, err := rec.ApplyPanelPrices(ctx, prices, pricing.ApplyOptions{
				DefaultCurrency: cfg.DefaultCurrency,
				Overwrite:       panelOverwrite,
				DryRun:          dryRun,
			})
			if err != nil {
				return err
			}
			fmt.Printf("panels: rows=%d created=%d updated=%d skipped=%d unmatched=%d invalid=%d\n",
				pstats.Rows, pstats.Created, pstats.Updated, pstats.Skipped,
				pstats.Unmatched, panelInvalid)
			return nil
		},
	}

	cmd.Flags().Bool("dry-run", false, "Run the price merge without writing")
	cmd.Flags().Bool("skip-catalogs", false, "Skip the catalog sync step")
	cmd.Flags().Bool("skip-prices", false, "Skip the price merge step")
	cmd.Flags().String("services-csv", "data/services_stub.csv", "Services price CSV, stub-created when absent")
	cmd.Flags().String("panel-prices", "", "Flat panel-price CSV (code;price)")
	cmd.Flags().Bool("panel-has-header", false, "Treat the first panel CSV line as a header")
	cmd.Flags().Bool("panel-overwrite", false, "Overwrite non-zero service costs with panel prices")
	cmd.Flags().Bool("create-missing-services", false, "Create Service rows for unknown codes")
	addUpstreamFlags(cmd)
	return cmd
}

func probeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Diagnostics against the upstream system",
	}

	pricesCmd := &cobra.Command{
		Use:   "prices",
		Short: "Scan conventional price pages and dump responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := context.Background()

			ncfg, err := upstreamConfig(cmd, cfg)
			if err != nil {
				return err
			}

			client, err := nacpp.Connect(ctx, ncfg, logger)
			if err != nil {
				return err
			}
			defer client.Close(ctx)

			extra, _ := cmd.Flags().GetStringSlice("extra")
			outDir, _ := cmd.Flags().GetString("out")
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}

			hits := 0
			for _, p := range client.ProbePricePages(ctx, extra) {
				if p.Err != nil {
					fmt.Printf("-  %s :: error %v\n", p.Path, p.Err)
					continue
				}
				if p.Status != 200 || p.Size == 0 {
					fmt.Printf("-  %s :: %d, %d bytes\n", p.Path, p.Status, p.Size)
					continue
				}
				name := strings.ReplaceAll(strings.Trim(p.Path, "/"), "/", "_")
				if name == "" {
					name = "root"
				}
				file := filepath.Join(outDir, name+".html")
				if err := os.WriteFile(file, []byte(p.Body), 0o644); err != nil {
					return err
				}
				mark := "-"
				if p.MoneyFound {
					mark = "$"
					hits++
				}
				fmt.Printf("%s  %s :: 200, %d bytes, saved\n", mark, p.Path, p.Size)
			}

			if hits == 0 {
				fmt.Println("no price patterns found on conventional pages")
			} else {
				fmt.Printf("pages with price patterns: %d, dumps in %s\n", hits, outDir)
			}
			return nil
		},
	}
	pricesCmd.Flags().StringSlice("extra", nil, "Additional relative paths to probe")
	pricesCmd.Flags().String("out", "data/price_probe", "Directory for response dumps")
	addUpstreamFlags(pricesCmd)

	cmd.AddCommand(pricesCmd)
	return cmd
}

func fetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch artifacts from the upstream system",
	}

	reportsCmd := &cobra.Command{
		Use:   "reports ORDERNO...",
		Short: "Download printable report bundles per order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := context.Background()

			ncfg, err := upstreamConfig(cmd, cfg)
			if err != nil {
				return err
			}

			client, err := nacpp.Connect(ctx, ncfg, logger)
			if err != nil {
				return err
			}
			defer client.Close(ctx)

			panelsCSV, _ := cmd.Flags().GetString("panels")
			noLogo, _ := cmd.Flags().GetBool("no-logo")

			for _, number := range args {
				saved, err := fetchOrderReports(ctx, client, cfg.ReportsDir, number, panelsCSV, !noLogo)
				if err != nil {
					logger.Warn().Err(err).Str("order", number).Msg("report bundle skipped")
					continue
				}
				fmt.Printf("%s: saved %d file(s)\n", number, saved)
			}
			return nil
		},
	}
	reportsCmd.Flags().String("panels", "", "Comma-separated panel codes to include")
	reportsCmd.Flags().Bool("no-logo", false, "Request reports without the clinic logo")
	addUpstreamFlags(reportsCmd)

	cmd.AddCommand(reportsCmd)
	return cmd
}

func fetchOrderReports(ctx context.Context, client *nacpp.Client, baseDir, number, panelsCSV string, withLogo bool) (int, error) {
	meta, err := client.ReportBundle(ctx, number, panelsCSV, withLogo)
	if err != nil {
		return 0, err
	}

	items, _ := meta["files"].([]interface{})
	if items == nil {
		items, _ = meta["reports"].([]interface{})
	}

	orderDir := filepath.Join(baseDir, number)
	if err := os.MkdirAll(orderDir, 0o755); err != nil {
		return 0, err
	}

	saved := 0
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		fileURL, _ := item["url"].(string)
		if fileURL == "" {
			fileURL, _ = item["href"].(string)
		}
		if fileURL == "" {
			continue
		}
		name, _ := item["name"].(string)
		if name == "" {
			name = filepath.Base(fileURL)
		}

		data, err := client.Download(ctx, fileURL)
		if err != nil {
			return saved, err
		}
		if err := os.WriteFile(filepath.Join(orderDir, name), data, 0o644); err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}
