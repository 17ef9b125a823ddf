package commands

import (
	"context"

	"github.com/dgallion1/irdigest/cmd/irdigest/ui"
	"github.com/spf13/cobra"
)

var redeliverCmd = &cobra.Command{
	Use:   "redeliver ID",
	Short: "Upload a stored report to the sink again",
	Long:  "Upload the report of a stored analysis to the configured sink without re-running the analysis.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRecordID(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := context.Background()
		a, err := buildApp(ctx, cfg, newLogger(cfg.Log), appOptions{deliver: true})
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := a.driver.Deliver(ctx, *rec); err != nil {
			return err
		}
		ui.Success("delivered record %d (%s)", rec.ID, rec.Filename)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redeliverCmd)
}
