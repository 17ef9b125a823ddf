package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dgallion1/irdigest/cmd/irdigest/ui"
	"github.com/dgallion1/irdigest/internal/pipeline"
	"github.com/dgallion1/irdigest/internal/report"
	"github.com/spf13/cobra"
)

var (
	analyzeForce   bool
	analyzeDeliver bool
	analyzeOutDir  string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE...",
	Short: "Analyze one or more PDF decks",
	Long: `Analyze PDF decks one after another. A file whose name is already in the
ledger is answered from the ledger unless --force is given. A failure in
one file does not stop the others.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeForce, "force", false, "re-analyze even if the filename is in the ledger")
	analyzeCmd.Flags().BoolVar(&analyzeDeliver, "deliver", false, "deliver reports to the configured sink")
	analyzeCmd.Flags().StringVarP(&analyzeOutDir, "out", "o", "", "also write markdown reports into this directory")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !verbose {
		// Keep the terminal for progress output.
		cfg.Log.Level = "warn"
	}
	log := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, log, appOptions{inference: true, deliver: analyzeDeliver})
	if err != nil {
		return err
	}
	defer a.Close()

	if analyzeOutDir != "" {
		if err := os.MkdirAll(analyzeOutDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	var docs []pipeline.Document
	var readFailures []error
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			ui.Error("%s: %v", path, err)
			readFailures = append(readFailures, err)
			continue
		}
		docs = append(docs, pipeline.Document{Filename: filepath.Base(path), Data: data})
	}

	ui.Section(fmt.Sprintf("Analyzing %d document(s) with %s", len(docs), cfg.Inference.Model))

	bars := map[string]*ui.PageProgress{}
	run := a.driver.Runner(a.guard, analyzeForce, func(name string) pipeline.Observer {
		p := ui.NewPageProgress(name)
		bars[name] = p
		return p
	})
	res := pipeline.RunBatch(ctx, docs, run)

	for _, out := range res.Outcomes {
		if p := bars[out.Filename]; p != nil {
			p.Finish()
		}
		reportOutcome(out, bars[out.Filename])
		if out.Record != nil && analyzeOutDir != "" {
			path := filepath.Join(analyzeOutDir, report.FileName(out.Filename))
			if err := os.WriteFile(path, []byte(report.Markdown(*out.Record)), 0o644); err != nil {
				ui.Error("%s: write report: %v", out.Filename, err)
			} else {
				ui.Info("%s: report written to %s", out.Filename, path)
			}
		}
	}

	failed := len(res.Failed()) + len(readFailures)
	if failed > 0 {
		return fmt.Errorf("%d of %d document(s) failed", failed, len(args))
	}
	return nil
}

func reportOutcome(out pipeline.Outcome, progress *ui.PageProgress) {
	var derr *pipeline.DeliveryError
	switch {
	case errors.As(out.Err, &derr):
		ui.Warning("%s: stored as record %d, delivery failed: %v", out.Filename, derr.RecordID, derr.Err)
	case errors.Is(out.Err, pipeline.ErrInProgress):
		ui.Warning("%s: being analyzed by another worker", out.Filename)
	case out.Err != nil:
		ui.Error("%s: %v", out.Filename, out.Err)
	case out.Cached:
		ui.Info("%s: already analyzed as record %d (use --force to re-run)", out.Filename, out.Record.ID)
	case progress != nil && progress.Failed() > 0:
		ui.Warning("%s: record %d, %d page(s) replaced by placeholders", out.Filename, out.Record.ID, progress.Failed())
	default:
		ui.Success("%s: record %d", out.Filename, out.Record.ID)
	}
}
