package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/lifecycle"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/registry"
)

var planCmd = &cobra.Command{
	Use:   "plan [base...]",
	Short: "Print the index targets a run would touch",
	Long: `Resolve locales and physical index identifiers for the given logical
indexes (all registered indexes when none are named). With --translations
the record store is consulted for the locales each class is actually
translated into.

Example:
  searchsync plan books movies --per-locale`,
	RunE: func(cmd *cobra.Command, args []string) error {
		perLocale, _ := cmd.Flags().GetBool("per-locale")
		locales, _ := cmd.Flags().GetStringSlice("locales")
		translations, _ := cmd.Flags().GetBool("translations")

		var n needs
		if translations {
			n = needDB
		}
		a, err := newApp(cfg, n)
		if err != nil {
			return err
		}
		defer a.Close()

		bases := args
		if len(bases) == 0 {
			bases = a.reg.Names()
		}
		return printJSON(cmd.OutOrStdout(), a.planner().TargetsForBases(cmd.Context(), bases, perLocale, locales))
	},
}

var touchCmd = &cobra.Command{
	Use:   "touch <class> <id>...",
	Short: "Reindex or delete individual records",
	Long: `Queue the given records of a class for every index the class feeds.
Records are reloaded from the record store and re-uploaded; with --delete
their documents are removed instead.

Examples:
  searchsync touch Book 12 13 --sync
  searchsync touch Book 99 --delete`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		del, _ := cmd.Flags().GetBool("delete")
		sync, _ := cmd.Flags().GetBool("sync")

		n := needDB
		if !sync && !del {
			n |= needKafka
		}
		a, err := newApp(cfg, n)
		if err != nil {
			return err
		}
		defer a.Close()

		class, ids := args[0], args[1:]
		if len(a.reg.ByClass(class)) == 0 {
			return fmt.Errorf("class %q feeds no registered index", class)
		}
		uow := a.flusher(sync).Begin()
		if del {
			uow.Delete(class, ids...)
		} else {
			uow.Upsert(class, ids...)
		}
		return uow.Flush(cmd.Context())
	},
}

var importCmd = &cobra.Command{
	Use:   "import <index-uid> <file>",
	Short: "Upload a newline-delimited JSON file",
	Long: `Stream a pre-built NDJSON file into an index in payloads bounded by
engine.maxPayloadBytes. Every line must carry the primary key.

Example:
  searchsync import app_books_en books.ndjson --primary-key isbn --wait`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		primaryKey, _ := cmd.Flags().GetString("primary-key")
		wait, _ := cmd.Flags().GetBool("wait")
		ctx := cmd.Context()

		a, err := newApp(cfg, 0)
		if err != nil {
			return err
		}
		defer a.Close()

		uid, path := args[0], args[1]
		if _, err := a.indexes.GetOrCreateIndex(ctx, uid, primaryKey, cfg.Index.AutoCreate); err != nil {
			return err
		}
		res, err := a.uploader.UploadFile(ctx, uid, path, primaryKey)
		if err != nil {
			return err
		}
		if wait {
			if _, err := a.indexes.WaitForTasks(ctx, res.TaskUIDs, lifecycle.WaitOptions{StopOnError: true}); err != nil {
				return err
			}
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <index-uid>...",
	Short: "Delete indexes",
	Long: `Delete each index and wait for the deletion. Missing indexes are not an
error.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, 0)
		if err != nil {
			return err
		}
		defer a.Close()

		for _, uid := range args {
			if err := a.indexes.Reset(cmd.Context(), uid); err != nil {
				return fmt.Errorf("resetting %s: %w", uid, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), uid)
		}
		return nil
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait <task-uid>",
	Short: "Wait for an engine task",
	Long: `Poll a task until it succeeds or fails, within tasks.maxAttempts polls.
The command exits non-zero when the task failed or did not finish.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid task uid %q: %w", args[0], err)
		}
		a, err := newApp(cfg, 0)
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := a.indexes.WaitForTask(cmd.Context(), uid, lifecycle.WaitOptions{StopOnError: true})
		if task != nil {
			if perr := printJSON(cmd.OutOrStdout(), task); perr != nil {
				return perr
			}
		}
		return err
	},
}

func init() {
	planCmd.Flags().Bool("per-locale", false, "expand multilingual indexes into one target per locale")
	planCmd.Flags().StringSlice("locales", nil, "only plan these locales (comma separated)")
	planCmd.Flags().Bool("translations", false, "consult translation tables in the record store")

	touchCmd.Flags().Bool("delete", false, "delete the records' documents instead of reindexing them")
	touchCmd.Flags().Bool("sync", false, "apply reload jobs in this process")

	importCmd.Flags().String("primary-key", registry.DefaultPrimaryKey, "primary key field of the documents")
	importCmd.Flags().Bool("wait", false, "wait for every upload task")
}
