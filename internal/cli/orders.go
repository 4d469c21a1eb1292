package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"brokerdash/internal/models"
	"brokerdash/internal/store"
	"brokerdash/pkg/utils"
)

func newOrdersCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List a user's cached orders",
		Example: `  brokerdash orders --user me@example.com --status open
  brokerdash orders --user me@example.com --since 24h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			filter, err := orderFilterFromFlags(cmd)
			if err != nil {
				return err
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
			orders, err := svc.orders.ListOrders(ctx, user.ID, filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				if orders == nil {
					orders = []models.Order{}
				}
				return output.JSON(orders)
			}
			if len(orders) == 0 {
				output.Dim("No orders.")
				return nil
			}

			table := NewTable(output, "TIME", "ID", "BROKER ID", "SYMBOL", "SIDE", "TYPE", "QTY", "FILLED", "STATUS")
			for _, o := range orders {
				table.AddRow(
					o.OrderTime.In(utils.IndiaLocation).Format("02-Jan 15:04"),
					o.ID,
					o.BrokerOrderID,
					o.Symbol,
					string(o.TransactionType),
					string(o.OrderType),
					utils.FormatQuantity(o.Quantity),
					utils.FormatQuantity(o.FilledQuantity),
					output.OrderStatus(o.Status),
				)
			}
			table.Render()
			return nil
		},
	}

	addUserFlag(cmd)
	cmd.Flags().String("status", "", "filter by status (open, complete, cancelled, rejected, ...)")
	cmd.Flags().String("symbol", "", "filter by symbol")
	cmd.Flags().String("since", "", "only orders placed within this duration (e.g. 24h)")
	cmd.Flags().Int("limit", 50, "maximum number of orders")

	cmd.AddCommand(newOrdersSyncCmd(app))
	return cmd
}

func orderFilterFromFlags(cmd *cobra.Command) (store.OrderFilter, error) {
	status, _ := cmd.Flags().GetString("status")
	symbol, _ := cmd.Flags().GetString("symbol")
	since, _ := cmd.Flags().GetString("since")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := store.OrderFilter{
		Status: models.OrderStatus(strings.ToUpper(status)),
		Symbol: symbol,
		Limit:  limit,
	}
	if since != "" {
		d, err := time.ParseDuration(since)
		if err != nil || d <= 0 {
			return filter, fmt.Errorf("--since must be a positive duration like 24h")
		}
		filter.Since = time.Now().Add(-d)
	}
	return filter, nil
}

func newOrdersSyncCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Merge the broker order book into the cached orders",
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
			result, err := svc.orders.SyncOrders(ctx, user.ID)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(result)
			}
			output.Success("✓ Orders: %d updated, %d created, %d unchanged", result.Updated, result.Created, result.Unchanged)
			if result.Failed > 0 {
				output.Warning("%d broker records could not be merged", result.Failed)
			}
			return nil
		},
	}
	addUserFlag(cmd)
	return cmd
}
