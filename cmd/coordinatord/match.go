package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"

	"github.com/spf13/cobra"

	"github.com/fiatescrow/coordinator/pkg/config"
	"github.com/fiatescrow/coordinator/pkg/database"
	"github.com/fiatescrow/coordinator/pkg/matcher"
)

func newMatchCommand() *cobra.Command {
	var configFile string
	var desiredAmount string
	var rateCeiling string

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Run the intent matcher against the current active-offer projection and print the plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(configFile, desiredAmount, rateCeiling)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "coordinator.yaml", "optional YAML defaults file")
	cmd.Flags().StringVar(&desiredAmount, "desired-amount", "", "desired token amount (base units, decimal string)")
	cmd.Flags().StringVar(&rateCeiling, "rate-ceiling", "", "optional maximum acceptable exchange rate")
	cmd.MarkFlagRequired("desired-amount")
	return cmd
}

func runMatch(configFile, desiredAmountStr, rateCeilingStr string) error {
	logger := log.New(os.Stdout, "coordinatord: ", log.LstdFlags)

	if err := config.LoadDefaultsFile(configFile); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	desiredAmount, ok := new(big.Int).SetString(desiredAmountStr, 10)
	if !ok {
		return fmt.Errorf("invalid --desired-amount %q", desiredAmountStr)
	}

	var rateCeiling *big.Int
	if rateCeilingStr != "" {
		rateCeiling, ok = new(big.Int).SetString(rateCeilingStr, 10)
		if !ok {
			return fmt.Errorf("invalid --rate-ceiling %q", rateCeilingStr)
		}
	}

	db, err := database.NewClient(cfg, database.WithLogger(logger))
	if err != nil {
		return err
	}
	defer db.Close()

	offers, err := database.NewOfferRepository(db).ReadActiveOffers(context.Background())
	if err != nil {
		return err
	}

	matcherOffers := make([]matcher.Offer, len(offers))
	for i, o := range offers {
		matcherOffers[i] = matcher.Offer{
			OfferID:   o.OfferID,
			Seller:    o.Seller,
			Token:     o.Token,
			Remaining: o.RemainingAmount,
			Rate:      o.ExchangeRate,
			PayeeID:   o.PayeeID,
			PayeeName: o.PayeeName,
		}
	}

	plan, err := matcher.Match(matcherOffers, desiredAmount, rateCeiling)
	if err != nil {
		return err
	}

	fmt.Printf("fully_fillable=%v total_filled=%s\n", plan.FullyFillable, plan.TotalFilled.String())
	for _, fill := range plan.Fills {
		fmt.Printf("  offer=%s amount=%s\n", fill.OfferID, fill.FillAmount.String())
	}
	return nil
}
