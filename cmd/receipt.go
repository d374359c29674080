package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var verifyForce bool

var receiptCmd = &cobra.Command{
	Use:   "receipt",
	Short: "Receipt maintenance commands",
}

var verifyReceiptCmd = &cobra.Command{
	Use:   "verify [receipt-id]",
	Short: "Verify a stored receipt against its purchase request",
	Long:  `Extract the receipt's vendor, amount and date and score them against the request. A stored result is reused unless --force is given.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid receipt id %q", args[0])
		}

		deps, err := initializeDependencies(cmd.Context())
		if err != nil {
			return err
		}
		defer deps.Close()

		analysis, err := deps.Verification.VerifyReceipt(cmd.Context(), id, verifyForce)
		if err != nil {
			return err
		}

		out, _ := json.MarshalIndent(analysis, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	verifyReceiptCmd.Flags().BoolVar(&verifyForce, "force", false, "re-run extraction even when a result is stored")
	receiptCmd.AddCommand(verifyReceiptCmd)
}
