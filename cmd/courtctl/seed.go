package main

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().Int("accounts", 1000, "Number of member accounts to create")
	seedCmd.Flags().Int("courts", 10, "Number of active courts to create")
	seedCmd.Flags().Int64("balance", 1_000_000, "Opening wallet balance per account")
	seedCmd.Flags().Int64("price", 150_000, "Hourly price per court")
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Bulk-load accounts and courts for local testing and benchmarks",
	Args:  cobra.NoArgs,
	RunE:  runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	accounts, _ := cmd.Flags().GetInt("accounts")
	courts, _ := cmd.Flags().GetInt("courts")
	balance, _ := cmd.Flags().GetInt64("balance")
	price, _ := cmd.Flags().GetInt64("price")

	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	pool := e.store.Pool()

	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM accounts").Scan(&count); err != nil {
		return err
	}
	if count >= accounts {
		e.log.Info("accounts already seeded, skipping", zap.Int("existing", count))
	} else {
		now := time.Now()
		rows := make([][]any, 0, accounts-count)
		for i := count; i < accounts; i++ {
			rows = append(rows, []any{fmt.Sprintf("Member %04d", i+1), decimal.NewFromInt(balance), now})
		}
		n, err := pool.CopyFrom(ctx, pgx.Identifier{"accounts"},
			[]string{"full_name", "balance", "created_at"}, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("bulk insert accounts: %w", err)
		}
		e.log.Info("seeded accounts", zap.Int64("count", n))
	}

	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM courts").Scan(&count); err != nil {
		return err
	}
	if count >= courts {
		e.log.Info("courts already seeded, skipping", zap.Int("existing", count))
		return nil
	}
	rows := make([][]any, 0, courts-count)
	for i := count; i < courts; i++ {
		rows = append(rows, []any{fmt.Sprintf("Court %d", i+1), decimal.NewFromInt(price), true})
	}
	n, err := pool.CopyFrom(ctx, pgx.Identifier{"courts"},
		[]string{"name", "price_per_hour", "active"}, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("bulk insert courts: %w", err)
	}
	e.log.Info("seeded courts", zap.Int64("count", n))
	return nil
}
