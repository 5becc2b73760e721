package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"paycore/internal/common/money"
	"paycore/internal/fees"
	"paycore/internal/risk"
	"paycore/internal/routing"
	"paycore/internal/routing/selector"
)

func routesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Inspect the route catalog",
	}
	cmd.AddCommand(routesQuoteCmd())
	return cmd
}

type quoteFlags struct {
	file        string
	amountMinor int64
	currency    string
	method      string
	sourceChain string
	targetChain string
	agentID     string
	asJSON      bool
}

func routesQuoteCmd() *cobra.Command {
	var f quoteFlags

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Score catalog routes for a payment without creating an intent",
		Long: `Score every matching route in a YAML catalog file and print the
selected route followed by all candidates.

Examples:
  paycore routes quote --file routes.yaml --amount-minor 150000 --currency USDC \
    --method wallet --source-chain ethereum --target-chain polygon`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if f.file == "" {
				f.file = cfg.RoutesFile
			}
			if f.file == "" {
				return fmt.Errorf("--file or ROUTES_FILE is required")
			}
			if f.amountMinor <= 0 {
				return fmt.Errorf("--amount-minor must be positive")
			}

			decision, err := quote(cmd.Context(), cfg, f)
			if err != nil {
				return err
			}
			if f.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(decision)
			}
			return printDecision(cmd.OutOrStdout(), decision)
		},
	}

	cmd.Flags().StringVarP(&f.file, "file", "f", "", "route catalog YAML (defaults to ROUTES_FILE)")
	cmd.Flags().Int64Var(&f.amountMinor, "amount-minor", 0, "payment amount in minor units")
	cmd.Flags().StringVar(&f.currency, "currency", "USD", "payment currency")
	cmd.Flags().StringVar(&f.method, "method", "", "payment method filter")
	cmd.Flags().StringVar(&f.sourceChain, "source-chain", "", "source chain filter")
	cmd.Flags().StringVar(&f.targetChain, "target-chain", "", "target chain filter")
	cmd.Flags().StringVar(&f.agentID, "agent", "", "acting agent id")
	cmd.Flags().BoolVarP(&f.asJSON, "json", "j", false, "output the full decision as JSON")

	return cmd
}

func quote(ctx context.Context, cfg Config, f quoteFlags) (selector.Decision, error) {
	routes, err := routing.FileSource{Path: f.file}.Load(ctx)
	if err != nil {
		return selector.Decision{}, err
	}
	catalog, err := routing.NewMemoryCatalog(routes)
	if err != nil {
		return selector.Decision{}, err
	}

	sel := selector.New(catalog, fees.NewEstimator(cfg.Fees), risk.NewScorer(cfg.Risk), cfg.Scoring, nil)
	return sel.SelectBestRoute(ctx, selector.Request{
		Amount:        money.New(f.amountMinor, money.Currency(strings.ToUpper(f.currency))),
		SourceChain:   f.sourceChain,
		TargetChain:   f.targetChain,
		PaymentMethod: f.method,
		AgentID:       f.agentID,
	})
}

func printDecision(out io.Writer, d selector.Decision) error {
	sel := d.Selected
	fmt.Fprintf(out, "selected: %s (score %.4f, fee %s, risk %s)\n",
		sel.Route.RouteID, sel.Score, sel.Fee.Breakdown.Total, sel.Risk.Level)
	if d.Fallback {
		fmt.Fprintln(out, "no catalog route matched; using the fallback route")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROUTE\tMETHOD\tCHAINS\tSCORE\tFEE\tRISK\tSUCCESS\tAVG MS")
	for _, c := range d.Candidates {
		fmt.Fprintf(w, "%s\t%s\t%s->%s\t%.4f\t%s\t%s\t%.2f\t%d\n",
			c.Route.RouteID, c.Route.PaymentMethod, c.Route.SourceChain, c.Route.TargetChain,
			c.Score, c.Fee.Breakdown.Total, c.Risk.Level, c.Route.SuccessRate, c.Route.AvgExecutionMs)
	}
	return w.Flush()
}
