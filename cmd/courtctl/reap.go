package main

import (
	"fmt"

	"github.com/punchamoorthee/courtledger/internal/reaper"
	"github.com/punchamoorthee/courtledger/internal/service"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(reapCmd)
}

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Run one reaper pass: release expired holds and stale unpaid bookings, complete finished ones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		ledger := service.NewLedger(e.store, nil, e.log)
		bookings := service.NewBookingService(e.store, ledger, nil, e.log,
			service.WithHoldTTL(e.cfg.HoldTTL), service.WithPendingTTL(e.cfg.PendingTTL))
		p, err := reaper.New(bookings, e.cfg.ReaperInterval, e.log).RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "released %d expired holds and %d unpaid bookings, completed %d bookings\n",
			p.Released, p.Abandoned, p.Completed)
		return nil
	},
}
