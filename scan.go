package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"eve-arbitrage/internal/config"
	"eve-arbitrage/internal/engine"
)

type thresholdFlags struct {
	minProfit float64
	maxVolume float64
	maxCost   float64
}

func (f *thresholdFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.minProfit, "min-profit", -1, "minimum profit in ISK (default from config)")
	cmd.Flags().Float64Var(&f.maxVolume, "max-volume", 0, "maximum transport volume in m3")
	cmd.Flags().Float64Var(&f.maxCost, "max-cost", 0, "maximum total buy cost in ISK")
}

func (f *thresholdFlags) thresholds(cmd *cobra.Command, cfg *config.Config) engine.Thresholds {
	th := engine.Thresholds{MinProfitISK: cfg.MinProfitISK}
	if cmd.Flags().Changed("min-profit") {
		th.MinProfitISK = f.minProfit
	}
	if cmd.Flags().Changed("max-volume") {
		v := f.maxVolume
		th.MaxTransportVolume = &v
	}
	if cmd.Flags().Changed("max-cost") {
		v := f.maxCost
		th.MaxBuyCost = &v
	}
	return th
}

func newScanCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a one-shot scan and print the result as JSON",
	}
	cmd.AddCommand(newScanRegionCommand(configPath), newScanPairCommand(configPath))
	return cmd
}

func newScanRegionCommand(configPath *string) *cobra.Command {
	var (
		regionID        int32
		groupID         int32
		additional      string
		includeAdjacent bool
		th              thresholdFlags
	)
	cmd := &cobra.Command{
		Use:   "region",
		Short: "Scan a market group across a region and optional extra regions",
		Long: `Scan a market group across a region and optional extra regions.

Examples:
  eve-arbitrage scan region --region-id 10000002 --group-id 18
  eve-arbitrage scan region --region-id 10000002 --group-id 18 --additional-regions 10000043,10000030
  eve-arbitrage scan region --region-id 10000002 --group-id 18 --adjacent --max-volume 60000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			extra, err := parseIDList(additional)
			if err != nil {
				return fmt.Errorf("--additional-regions: %w", err)
			}
			return runScan(cmd, *configPath, func(ctx context.Context, s *engine.Scanner, cfg *config.Config) (any, error) {
				return s.ScanRegion(ctx, engine.RegionScanParams{
					RegionID:          regionID,
					GroupID:           groupID,
					AdditionalRegions: extra,
					IncludeAdjacent:   includeAdjacent,
					Thresholds:        th.thresholds(cmd, cfg),
				})
			})
		},
	}
	cmd.Flags().Int32Var(&regionID, "region-id", 0, "region to scan (required)")
	cmd.Flags().Int32Var(&groupID, "group-id", 0, "market group to scan (required)")
	cmd.Flags().StringVar(&additional, "additional-regions", "", "comma-separated extra region IDs")
	cmd.Flags().BoolVar(&includeAdjacent, "adjacent", false, "include regions within the configured hop budget")
	th.register(cmd)
	cmd.MarkFlagRequired("region-id")
	cmd.MarkFlagRequired("group-id")
	return cmd
}

func newScanPairCommand(configPath *string) *cobra.Command {
	var (
		from, to int32
		groupID  int32
		th       thresholdFlags
	)
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Scan hauls from one system to another",
		Long: `Scan hauls from one system to another.

Examples:
  eve-arbitrage scan pair --from 30000142 --to 30002187
  eve-arbitrage scan pair --from 30000142 --to 30002187 --group-id 18 --max-cost 500000000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, *configPath, func(ctx context.Context, s *engine.Scanner, cfg *config.Config) (any, error) {
				return s.ScanPair(ctx, engine.PairScanParams{
					FromSystemID: from,
					ToSystemID:   to,
					GroupID:      groupID,
					Thresholds:   th.thresholds(cmd, cfg),
				})
			})
		},
	}
	cmd.Flags().Int32Var(&from, "from", 0, "system to buy in (required)")
	cmd.Flags().Int32Var(&to, "to", 0, "system to sell in (required)")
	cmd.Flags().Int32Var(&groupID, "group-id", 0, "market group (default: every type traded on both sides)")
	th.register(cmd)
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

func runScan(cmd *cobra.Command, configPath string, run func(context.Context, *engine.Scanner, *config.Config) (any, error)) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(orBackground(cmd.Context()), os.Interrupt)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := run(ctx, a.scanner, cfg)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func parseIDList(s string) ([]int32, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []int32
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return nil, err
		}
		out = append(out, int32(v))
	}
	return out, nil
}
