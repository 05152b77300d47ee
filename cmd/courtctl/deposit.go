package main

import (
	"fmt"
	"strconv"

	"github.com/punchamoorthee/courtledger/internal/notify"
	"github.com/punchamoorthee/courtledger/internal/service"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(depositCmd)
	depositCmd.AddCommand(depositApproveCmd)
	depositCmd.AddCommand(depositRejectCmd)
}

var depositCmd = &cobra.Command{
	Use:   "deposit",
	Short: "Review pending deposits",
}

var depositApproveCmd = &cobra.Command{
	Use:   "approve TRANSACTION_ID",
	Short: "Approve a pending deposit and credit the account",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return decideDeposit(cmd, args[0], true) },
}

var depositRejectCmd = &cobra.Command{
	Use:   "reject TRANSACTION_ID",
	Short: "Reject a pending deposit",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return decideDeposit(cmd, args[0], false) },
}

func decideDeposit(cmd *cobra.Command, arg string, approve bool) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid transaction id %q", arg)
	}

	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.Close()

	ledger := service.NewLedger(e.store, notify.NewLogSink(e.log), e.log)
	verb := "approved"
	if approve {
		_, err = ledger.ApproveDeposit(cmd.Context(), id)
	} else {
		verb = "rejected"
		_, err = ledger.RejectDeposit(cmd.Context(), id)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deposit %d %s\n", id, verb)
	return nil
}
