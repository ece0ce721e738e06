package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pharmatrace/internal/app"
	"pharmatrace/internal/custody/domain/catalog"
	"pharmatrace/internal/custody/domain/shared"
	id "pharmatrace/pkg/domain"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Register parties and products",
}

var catalogLoadCmd = &cobra.Command{
	Use:   "load [file]",
	Short: "Upsert every party and product in a seed file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogLoad,
}

var catalogPartyCmd = &cobra.Command{
	Use:   "party [party-id] [role]",
	Short: "Register or update one party",
	Args:  cobra.ExactArgs(2),
	RunE:  runCatalogParty,
}

var (
	partyName    string
	partyAddress string
)

func init() {
	catalogPartyCmd.Flags().StringVar(&partyName, "name", "", "display name")
	catalogPartyCmd.Flags().StringVar(&partyAddress, "ledger-address", "", "ledger account (0x + 40 hex)")

	catalogCmd.AddCommand(catalogLoadCmd)
	catalogCmd.AddCommand(catalogPartyCmd)
	rootCmd.AddCommand(catalogCmd)
}

func runCatalogLoad(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var seed app.CatalogSeed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("decode %s: %w", args[0], err)
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := app.ApplySeed(ctx, a.Catalog, seed); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "loaded %d parties, %d products\n", len(seed.Parties), len(seed.Products))
	return err
}

func runCatalogParty(cmd *cobra.Command, args []string) error {
	partyID, err := id.ParsePartyID(args[0])
	if err != nil {
		return err
	}
	role, err := catalog.ParseRole(args[1])
	if err != nil {
		return err
	}
	party := catalog.Party{ID: partyID, Name: partyName, Role: role}
	if partyAddress != "" {
		if party.LedgerAddress, err = shared.NewLedgerAddress(partyAddress); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Catalog.SaveParty(ctx, party); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "party %s registered as %s\n", party.ID, party.Role)
	return err
}
