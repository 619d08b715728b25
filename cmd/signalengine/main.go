package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"intraday-signals/config"
	"intraday-signals/internal/markethours"
	"intraday-signals/internal/service"
	sqlitestore "intraday-signals/internal/store/sqlite"
)

var (
	version    = "0.1.0"
	configPath string
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	rootCmd := &cobra.Command{
		Use:           "signalengine",
		Short:         "Intraday signal engine: ATR levels, position alerts, dashboard feed",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (defaults to SIGNALS_CONFIG env var)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("[signalengine] %v", err)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("SIGNALS_CONFIG")
	}
	return config.Load(path)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tick loop, REST API and WebSocket feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := service.New(cfg, service.Options{})
			if err != nil {
				return fmt.Errorf("init failed: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			return svc.Run(ctx)
		},
	}
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run a single tick now and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := service.New(cfg, service.Options{Offline: true})
			if err != nil {
				return fmt.Errorf("init failed: %w", err)
			}
			defer svc.Close()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.FetchTimeout()+time.Minute)
			defer cancel()

			res := svc.Scan(ctx)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if res.Err != nil {
				return fmt.Errorf("tick %s: %w", res.Status, res.Err)
			}
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var days int
	var symbol string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print signal history statistics, or entries with --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if days > 0 || symbol != "" {
				q, err := historyQuery(cfg, days, symbol, time.Now())
				if err != nil {
					return err
				}
				entries, err := store.Query(ctx, q)
				if err != nil {
					return err
				}
				return enc.Encode(entries)
			}
			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			return enc.Encode(stats)
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 0, "List entries from the last N days")
	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "List entries for one symbol")
	return cmd
}

// historyQuery anchors the --days window on the exchange's trading date.
func historyQuery(cfg *config.Config, days int, symbol string, now time.Time) (sqlitestore.HistoryQuery, error) {
	cal, err := markethours.FromConfig(cfg)
	if err != nil {
		return sqlitestore.HistoryQuery{}, err
	}
	return sqlitestore.HistoryQuery{Days: days, Symbol: symbol, Today: cal.TradingDate(now)}, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "signalengine version %s\n", version)
		},
	}
}
