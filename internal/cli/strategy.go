package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"strategy-backtester/internal/models"
	"strategy-backtester/internal/store"
	"strategy-backtester/internal/strategy"
)

func addStrategyCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:     "strategy",
		Aliases: []string{"strategies"},
		Short:   "Validate and manage strategy documents",
	}
	cmd.AddCommand(newStrategyValidateCmd(app))
	cmd.AddCommand(newStrategySaveCmd(app))
	cmd.AddCommand(newStrategyListCmd(app))
	cmd.AddCommand(newStrategyShowCmd(app))
	rootCmd.AddCommand(cmd)
}

func newStrategyValidateCmd(app *App) *cobra.Command {
	var brokerID string

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a strategy document",
		Long: `Parse and validate a JSON or YAML strategy document. With --broker,
every instrument is also resolved against that broker's instrument table.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			doc, err := strategy.ParseFile(args[0])
			if err != nil {
				return err
			}
			s, res := doc.ToStrategy()
			if res.Valid {
				v, err := app.Validator(ctx, brokerID)
				if err != nil {
					return err
				}
				res = v.Validate(s, brokerID)
			}

			if output.IsJSON() {
				if err := output.JSON(res); err != nil {
					return err
				}
			} else {
				printValidation(output, doc, s, res)
			}
			if !res.Valid {
				return &exitError{code: 2}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&brokerID, "broker", "", "resolve instruments against this broker")
	return cmd
}

func printValidation(output *Output, doc *strategy.Document, s *models.Strategy, res models.ValidationResult) {
	if res.Valid {
		output.Success("✓ %s is valid", doc.ID)
		output.Printf("  Type:        %s\n", s.Spec.Kind())
		output.Printf("  Instruments: %d\n", len(s.InstrumentIDs()))
		output.Printf("  Trailing:    %s\n", s.Risk.ProfitTrailing.Kind)
		return
	}

	output.Error("✗ %s has %d issue(s)", doc.ID, len(res.Errors))
	table := NewTable(output, "Leg", "Field", "Problem")
	for _, e := range res.Errors {
		leg := e.LegID
		if leg == "" {
			leg = "-"
		}
		table.AddRow(leg, e.Field, e.Message)
	}
	table.Render()
}

func newStrategySaveCmd(app *App) *cobra.Command {
	var brokerID string

	cmd := &cobra.Command{
		Use:   "save <file>",
		Short: "Validate a strategy document and save it to the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			loaded, err := app.LoadStrategy(ctx, args[0], brokerID)
			if err != nil {
				return err
			}
			st, err := app.Store()
			if err != nil {
				return err
			}
			rec := store.StrategyRecord{
				ID:        loaded.Strategy.ID,
				Name:      loaded.Strategy.Name,
				Kind:      loaded.Strategy.Spec.Kind(),
				Format:    loaded.Format,
				Document:  loaded.Raw,
				UpdatedAt: time.Now(),
			}
			if err := st.SaveStrategy(ctx, rec); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"id": rec.ID, "kind": string(rec.Kind)})
			}
			output.Success("✓ Saved strategy %s (%s)", rec.ID, rec.Kind)
			return nil
		},
	}

	cmd.Flags().StringVar(&brokerID, "broker", "", "resolve instruments against this broker before saving")
	return cmd
}

func newStrategyListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store()
			if err != nil {
				return err
			}
			recs, err := st.ListStrategies(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				type row struct {
					ID        string    `json:"id"`
					Name      string    `json:"name"`
					Kind      string    `json:"kind"`
					Format    string    `json:"format"`
					UpdatedAt time.Time `json:"updated_at"`
				}
				rows := make([]row, 0, len(recs))
				for _, r := range recs {
					rows = append(rows, row{r.ID, r.Name, string(r.Kind), r.Format, r.UpdatedAt})
				}
				return output.JSON(rows)
			}

			if len(recs) == 0 {
				output.Dim("No saved strategies")
				return nil
			}
			table := NewTable(output, "ID", "Name", "Type", "Format", "Updated")
			for _, r := range recs {
				table.AddRow(r.ID, TruncateString(r.Name, 32), string(r.Kind), r.Format, FormatDateTime(r.UpdatedAt))
			}
			table.Render()
			return nil
		},
	}
}

func newStrategyShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved strategy document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.Store()
			if err != nil {
				return err
			}
			rec, err := st.GetStrategy(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(string(rec.Document), "\n"))
			return err
		},
	}
}
