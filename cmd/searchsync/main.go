package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/logger"
)

// errRunFailed makes the process exit non-zero after a command already
// reported what went wrong.
var errRunFailed = errors.New("run failed")

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "searchsync",
	Short: "Synchronize relational records into locale-aware search indexes",
	Long: `searchsync keeps search engine indexes in step with the record store.

Commands:
  index   - plan targets, prepare indexes and dispatch reload jobs
  worker  - consume reload jobs from Kafka and upload documents
  plan    - print the index targets a run would touch
  touch   - reindex or delete individual records
  import  - upload a pre-built NDJSON file
  reset   - delete an index
  wait    - wait for an engine task

Examples:
  searchsync index --per-locale --wait
  searchsync index books --locales es,fr --sync
  searchsync worker
  searchsync import app_books_en books.ndjson --primary-key isbn`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/development.yaml", "path to config file")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(touchCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(waitCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRunFailed) {
			slog.Error("command failed", "error", err)
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		stop()
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
