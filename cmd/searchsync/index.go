package main

import (
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/syncer"
)

var indexOpts syncer.Options

var indexCmd = &cobra.Command{
	Use:   "index [base...]",
	Short: "Synchronize logical indexes",
	Long: `Plan the physical targets of the given logical indexes (all registered
indexes when none are named), create and configure each index, then dispatch
one reload job per batch of primary keys.

Jobs run on the Kafka workers unless --sync is set, in which case every
batch is applied in order by this process. With --wait the command returns
only after the engine finished every task of the run.

The command exits non-zero when any target failed or a named index is not
registered.

Examples:
  searchsync index --dry-run --per-locale
  searchsync index books --per-locale --locales es --sync
  searchsync index movies --purge --batch-size 1000 --wait`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := indexOpts
		opts.Bases = args

		n := needDB
		if !opts.Sync && !opts.DryRun {
			n |= needKafka
			if opts.Wait {
				n |= needRedis
			}
		}
		a, err := newApp(cfg, n)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.syncer().Run(cmd.Context(), opts)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if report.Failed() {
			return errRunFailed
		}
		return nil
	},
}

func init() {
	f := indexCmd.Flags()
	f.BoolVar(&indexOpts.DryRun, "dry-run", false, "print the planned targets without touching the engine")
	f.StringSliceVar(&indexOpts.Locales, "locales", nil, "only index these locales (comma separated)")
	f.BoolVar(&indexOpts.PerLocale, "per-locale", false, "build one index per locale for multilingual indexes")
	f.BoolVar(&indexOpts.Wait, "wait", false, "wait until the engine applied every task of the run")
	f.BoolVar(&indexOpts.Purge, "purge", false, "delete each index before reindexing it")
	f.BoolVar(&indexOpts.Sync, "sync", false, "apply jobs in this process instead of the Kafka workers")
	f.IntVar(&indexOpts.BatchSize, "batch-size", 0, "primary keys per job (default index.batchSize)")
	f.IntVar(&indexOpts.Limit, "limit", 0, "stop dispatching once this many records were sent (0 = no limit)")
}
