package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgallion1/irdigest/cmd/irdigest/ui"
	"github.com/dgallion1/irdigest/internal/watch"
	"github.com/spf13/cobra"
)

var watchOnce bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll the sink folder and analyze new PDFs",
	Long: `Poll the configured sink folder (Drive folder, GCS prefix, or local
directory). New PDFs are tagged "[analyzing]", analyzed, delivered, and
tagged "[done]", "[error]", or "[undelivered]".`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "run a single poll and exit")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, log, appOptions{inference: true})
	if err != nil {
		return err
	}
	defer a.Close()
	if a.sink == nil {
		return errors.New("watch needs sink.driver and sink.folder_id")
	}

	loop := watch.NewLoop(a.sink, a.watchDriver(), a.guard, watch.Config{
		FolderID: cfg.Sink.FolderID,
		Interval: cfg.Watch.Interval,
		TagFiles: cfg.Watch.TagFiles,
	}, log)

	if watchOnce {
		sum, err := loop.Poll(ctx)
		if err != nil {
			return err
		}
		ui.Info("seen %d, analyzed %d, cached %d, failed %d, undelivered %d, busy %d",
			sum.Seen, sum.Analyzed, sum.Cached, sum.Failed, sum.Undelivered, sum.InProgress)
		return nil
	}

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
