package cli

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"skynet-vpn-bot/internal/services"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		b, err := newBase()
		if err != nil {
			return err
		}
		defer b.close()
		if err := b.ledger.Migrate(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
		return nil
	},
}

var syncCatalogCmd = &cobra.Command{
	Use:   "sync-catalog",
	Short: "Load servers and tariffs from the catalogue file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		b, err := newBase()
		if err != nil {
			return err
		}
		defer b.close()
		if err := b.prepare(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "catalogue %s synced\n", b.cfg.CatalogFile)
		return nil
	},
}

// settle закрывает счёт вручную, например когда Robokassa не дозвонилась до ResultURL.
var settleCmd = &cobra.Command{
	Use:   "settle <invoice_id> <amount>",
	Short: "Settle a paid invoice by hand",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		invoiceID, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invoice id: %w", err)
		}
		amount, err := decimal.NewFromString(args[1])
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		out, err := a.settler.Settle(cmd.Context(), services.SettleInput{InvoiceID: uint(invoiceID), Amount: amount})
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if out.Replayed {
			fmt.Fprintf(w, "invoice %d was already settled, subscription until %s\n", out.InvoiceID, out.SubEnd.Format("2006-01-02"))
			return nil
		}
		fmt.Fprintf(w, "invoice %d settled, subscription until %s\n", out.InvoiceID, out.SubEnd.Format("2006-01-02"))
		printFailed(cmd, out.Report)
		return nil
	},
}

var updateClientCmd = &cobra.Command{
	Use:   "update-client <telegram_id> <devices> <YYYY-MM-DD>",
	Short: "Set a user's expiry and device limit on every server",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		tgID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("telegram id: %w", err)
		}
		devices, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("devices: %w", err)
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		report, err := a.updater.Update(cmd.Context(), services.AdminUpdateRequest{TelegramID: tgID, Devices: devices, SubTime: args[2]})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user %d updated, subscription until %s\n", tgID, report.SubEnd.Format("2006-01-02"))
		printFailed(cmd, report)
		return nil
	},
}

func printFailed(cmd *cobra.Command, report *services.Report) {
	if report == nil {
		return
	}
	for _, f := range report.Failed() {
		fmt.Fprintf(cmd.OutOrStdout(), "  server %s (#%d) failed: %s\n", f.ServerName, f.ServerID, f.Reason)
	}
}
