package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"payflow/internal/services/audit"

	"github.com/pocketbase/pocketbase/core"
	"github.com/spf13/cobra"
)

type unresolvedLister interface {
	Unresolved(ctx context.Context) ([]audit.Attempt, error)
}

func pendingReconciliationsCmd(app core.App) *cobra.Command {
	var asJSON bool

	command := &cobra.Command{
		Use:   "pending-reconciliations",
		Short: "Lists payments confirmed by the operator but not recorded by the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printPending(cmd.Context(), cmd, audit.NewStore(app), asJSON)
		},
	}
	command.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return command
}

func printPending(ctx context.Context, cmd *cobra.Command, lister unresolvedLister, asJSON bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := lister.Unresolved(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(out, "no pending reconciliations")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UPDATED\tTX\tREFERENCE\tGATEWAY TX\tAMOUNT\tTYPE\tACTOR")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.Updated, r.TxID, r.Reference, r.GatewayTxID, r.Amount, r.Type, r.ActorID)
	}
	return w.Flush()
}
