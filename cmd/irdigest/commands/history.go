package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dgallion1/irdigest/cmd/irdigest/ui"
	"github.com/dgallion1/irdigest/internal/report"
	"github.com/spf13/cobra"
)

var (
	historyFormat string
	historyOutput string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse and manage stored analyses",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored analyses, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(func(ctx context.Context, a *app) error {
			recs, err := a.store.ListAll(ctx)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				ui.Info("no analyses stored")
				return nil
			}
			tw := tabwriter.NewWriter(ui.Stdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tANALYZED AT\tFILENAME")
			for _, r := range recs {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", r.ID, r.AnalyzedAt.Local().Format("2006-01-02 15:04"), r.Filename)
			}
			return tw.Flush()
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print a stored report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRecordID(args[0])
		if err != nil {
			return err
		}
		format, ok := report.ParseFormat(historyFormat)
		if !ok {
			return fmt.Errorf("unknown format %q (md, html, docx)", historyFormat)
		}
		if format == report.FormatDOCX && historyOutput == "" {
			return fmt.Errorf("docx output needs --output")
		}
		return withStorage(func(ctx context.Context, a *app) error {
			rec, err := a.store.GetByID(ctx, id)
			if err != nil {
				return err
			}
			var body []byte
			switch format {
			case report.FormatHTML:
				body, err = report.HTML(*rec)
			case report.FormatDOCX:
				body, err = report.DOCX(*rec)
			default:
				body = []byte(report.Markdown(*rec))
			}
			if err != nil {
				return err
			}
			return writeOutput(historyOutput, body)
		})
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a stored analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRecordID(args[0])
		if err != nil {
			return err
		}
		return withStorage(func(ctx context.Context, a *app) error {
			if err := a.store.DeleteByID(ctx, id); err != nil {
				return err
			}
			ui.Success("deleted record %d", id)
			return nil
		})
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all analyses as CSV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(func(ctx context.Context, a *app) error {
			recs, err := a.store.ListAll(ctx)
			if err != nil {
				return err
			}
			var sb strings.Builder
			if err := report.WriteCSV(&sb, recs); err != nil {
				return err
			}
			return writeOutput(historyOutput, []byte(sb.String()))
		})
	},
}

func init() {
	historyShowCmd.Flags().StringVarP(&historyFormat, "format", "f", "md", "report format: md, html, docx")
	historyShowCmd.Flags().StringVarP(&historyOutput, "output", "o", "", "write to file instead of stdout")
	historyExportCmd.Flags().StringVarP(&historyOutput, "output", "o", "", "write to file instead of stdout")
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd, historyExportCmd)
	rootCmd.AddCommand(historyCmd)
}

// withStorage runs fn against the ledger only, without inference
// credentials.
func withStorage(fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !verbose {
		cfg.Log.Level = "warn"
	}
	ctx := context.Background()
	a, err := buildApp(ctx, cfg, newLogger(cfg.Log), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func parseRecordID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record id %q", s)
	}
	return id, nil
}

func writeOutput(path string, body []byte) error {
	var w io.Writer = ui.Stdout()
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if path != "" {
		ui.Success("wrote %s", path)
	}
	return nil
}
