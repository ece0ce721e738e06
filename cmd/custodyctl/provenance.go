package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pharmatrace/internal/provenance"
)

var provenanceJSON bool

var provenanceCmd = &cobra.Command{
	Use:   "provenance [unit-id|serial|batch]",
	Short: "Reconstruct the custody journey of a unit",
	Args:  cobra.ExactArgs(1),
	RunE:  runProvenance,
}

func init() {
	provenanceCmd.Flags().BoolVar(&provenanceJSON, "json", false, "print the raw JSON document")
	rootCmd.AddCommand(provenanceCmd)
}

func runProvenance(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.Provenance.Reconstruct(ctx, args[0])
	if err != nil {
		return err
	}
	if provenanceJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}
	return printProvenance(cmd.OutOrStdout(), p)
}

func printProvenance(w io.Writer, p *provenance.Provenance) error {
	fmt.Fprintf(w, "unit %s (serial %s) batch %s status %s\n", p.Unit.TokenID, p.Unit.Serial, p.BatchNumber, p.Unit.Status)
	if p.CurrentHolder != nil {
		fmt.Fprintf(w, "held by %s since %s\n", p.CurrentHolder.PartyID, p.CurrentHolder.Since.Format("2006-01-02 15:04"))
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tDOCUMENT\tFROM\tTO\tSTATUS\tAT\tMATCHES")
	for _, st := range p.Journey {
		doc := st.DocumentNumber
		if doc == "" {
			doc = st.DocumentID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			st.Kind, doc, st.FromParty, st.ToParty, st.Status, st.OccurredAt.Format("2006-01-02 15:04"), st.MatchCount)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, warning := range p.DataQuality {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	if p.LedgerError != "" {
		fmt.Fprintf(w, "ledger: %s\n", p.LedgerError)
	}
	return nil
}
