package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"brokerdash/internal/models"
	"brokerdash/internal/scheduler"
	"brokerdash/internal/security"
	"brokerdash/pkg/utils"
)

// addPortfolioCommands adds the holdings commands.
func addPortfolioCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newSyncCmd(app))
	rootCmd.AddCommand(newRefreshCmd(app))
	rootCmd.AddCommand(newPortfolioCmd(app))
	rootCmd.AddCommand(newMoversCmd(app))
}

func newSyncCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replace a user's holdings with the broker's and merge the order book",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			svc, err := openServices(ctx, app.Config, app.Logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			user, err := svc.resolveUser(ctx, userFlag(cmd))
			if err != nil {
				return err
			}

			result, err := svc.portfolio.Sync(ctx, user.ID)
			event := security.AuditEvent{EventType: security.AuditPortfolioSync, UserID: user.ID, Action: "cli_full_sync"}
			if result != nil {
				event.Details = map[string]interface{}{"holdings": len(result.Portfolio.Holdings), "skipped_records": result.SkippedRecords}
			}
			svc.record(ctx, event, err)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(result)
			}
			output.Success("✓ Synced %d holdings", len(result.Portfolio.Holdings))
			if result.SkippedRecords > 0 {
				output.Warning("Skipped %d malformed broker records", result.SkippedRecords)
			}
			if result.Orders != nil {
				output.Dim("Orders: %d updated, %d created, %d unchanged, %d failed",
					result.Orders.Updated, result.Orders.Created, result.Orders.Unchanged, result.Orders.Failed)
			}
			if result.OrderSyncError != "" {
				output.Warning("Order book sync failed: %s", result.OrderSyncError)
			}
			printPortfolio(output, result.Portfolio)
			return nil
		},
	}
	addUserFlag(cmd)
	return cmd
}

func newRefreshCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh last traded prices for cached holdings",
		Example: `  brokerdash refresh --user me@example.com
  brokerdash refresh --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			svc, err := openServices(ctx, app.Config, app.Logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			if all, _ := cmd.Flags().GetBool("all"); all {
				job := scheduler.NewPriceRefreshJob(svc.auth, svc.portfolio, svc.store, false, app.Logger)
				summary, err := job.RunOnce(ctx)
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(summary)
				}
				output.Success("✓ Refreshed %d of %d linked users (%d skipped, %d failed)",
					summary.Refreshed, summary.Users, summary.Skipped, summary.Failed)
				return nil
			}

			user, err := svc.resolveUser(ctx, userFlag(cmd))
			if err != nil {
				return err
			}
			result, err := svc.portfolio.RefreshPrices(ctx, user.ID)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(result)
			}
			output.Success("✓ Updated %d of %d prices", result.Updated, result.Requested)
			if result.Failed > 0 {
				output.Warning("%d instruments kept their previous price", result.Failed)
			}
			printPortfolio(output, result.Portfolio)
			return nil
		},
	}
	addUserFlag(cmd)
	cmd.Flags().Bool("all", false, "refresh every linked user, as the scheduler does")
	return cmd
}

func newPortfolioCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "portfolio",
		Aliases: []string{"holdings"},
		Short:   "Show a user's cached portfolio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			svc, err := openServices(ctx, app.Config, app.Logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			user, err := svc.resolveUser(ctx, userFlag(cmd))
			if err != nil {
				return err
			}
			p, err := svc.portfolio.GetPortfolio(ctx, user.ID)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(p)
			}
			printPortfolio(output, p)
			return nil
		},
	}
	addUserFlag(cmd)
	return cmd
}

func newMoversCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "movers",
		Short: "Show the top gainers and losers in a user's portfolio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			limit, _ := cmd.Flags().GetInt("limit")
			if limit < 0 {
				return fmt.Errorf("--limit must be positive")
			}

			svc, err := openServices(ctx, app.Config, app.Logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			user, err := svc.resolveUser(ctx, userFlag(cmd))
			if err != nil {
				return err
			}
			movers, err := svc.portfolio.Movers(ctx, user.ID, limit)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(movers)
			}
			output.Bold("Top gainers")
			printMovers(output, movers.TopGainers)
			output.Println()
			output.Bold("Top losers")
			printMovers(output, movers.TopLosers)
			return nil
		},
	}
	addUserFlag(cmd)
	cmd.Flags().Int("limit", 0, "entries per side (default: sync.movers_limit)")
	return cmd
}

func printPortfolio(output *Output, p *models.Portfolio) {
	output.Println()
	output.Printf("Sync: %s", output.SyncStatus(p.SyncStatus))
	if !p.LastSyncAt.IsZero() {
		output.Printf("  last %s", p.LastSyncAt.In(utils.IndiaLocation).Format("02-Jan-2006 15:04:05"))
	}
	output.Println()
	if p.SyncMessage != "" {
		output.Dim("%s", p.SyncMessage)
	}
	output.Printf("Market: %s\n\n", output.MarketStatus(utils.GetMarketStatus()))

	if len(p.Holdings) == 0 {
		output.Dim("No holdings.")
	} else {
		table := NewTable(output, "SYMBOL", "EXCH", "QTY", "AVG", "LTP", "VALUE", "P&L", "P&L %")
		for _, h := range p.Holdings {
			table.AddRow(
				h.Symbol,
				string(h.Exchange),
				utils.FormatQuantity(h.Quantity),
				fmt.Sprintf("%.2f", h.AveragePrice),
				fmt.Sprintf("%.2f", h.CurrentPrice),
				utils.FormatCompact(h.CurrentValue),
				output.FormatPnL(h.PnL),
				output.FormatPercent(h.PnLPercent),
			)
		}
		table.Render()
	}

	output.Println()
	output.Printf("Invested:  %s\n", utils.FormatIndianCurrency(p.TotalInvestedValue))
	output.Printf("Current:   %s\n", utils.FormatIndianCurrency(p.TotalCurrentValue))
	output.Printf("P&L:       %s (%s)\n", output.FormatPnL(p.TotalPnL), output.FormatPercent(p.TotalPnLPercentage))
	output.Printf("Funds:     %s\n", utils.FormatIndianCurrency(p.AvailableFunds))
}

func printMovers(output *Output, holdings []models.Holding) {
	if len(holdings) == 0 {
		output.Dim("  none")
		return
	}
	table := NewTable(output, "SYMBOL", "LTP", "P&L", "P&L %")
	for _, h := range holdings {
		table.AddRow(h.Symbol, fmt.Sprintf("%.2f", h.CurrentPrice), output.FormatPnL(h.PnL), output.FormatPercent(h.PnLPercent))
	}
	table.Render()
}
