package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/urfave/cli/v3"

	"github.com/powerpool/powerindex-keeper/internal/config"
	"github.com/powerpool/powerindex-keeper/internal/deployment"
	"github.com/powerpool/powerindex-keeper/internal/events"
	"github.com/powerpool/powerindex-keeper/internal/ledger"
	"github.com/powerpool/powerindex-keeper/internal/poke"
	"github.com/powerpool/powerindex-keeper/internal/strategy"
)

// out receives command output; tests swap it.
var out io.Writer = os.Stdout

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Print the pools, clients and reporters the descriptor deploys",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			d, err := build(ctx, cmd, nil)
			if err != nil {
				return err
			}
			now := d.Ledger.Clock().Now()
			clients := make([]poke.ClientInfo, 0)
			for _, addr := range d.Layer.Clients() {
				info, err := d.Layer.ClientInfo(addr, now)
				if err != nil {
					return cli.Exit(err, 1)
				}
				clients = append(clients, info)
			}
			return printJSON(map[string]interface{}{
				"at":        now,
				"layer":     d.Layer.Address(),
				"pools":     d.PoolSnapshots(),
				"clients":   clients,
				"reporters": d.Layer.Reporters(),
			})
		},
	}
}

func weightsCmd() *cli.Command {
	return &cli.Command{
		Name:  "weights",
		Usage: "Compute the targets a strategy would set for a pool, without applying them",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pool", Usage: "pool symbol", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			d, err := build(ctx, cmd, nil)
			if err != nil {
				return err
			}
			symbol := cmd.String("pool")
			poolAddr, ok := d.PoolBySymbol(symbol)
			if !ok {
				return cli.Exit(fmt.Sprintf("unknown pool %q", symbol), 1)
			}
			s, ok := strategyOf(d, poolAddr)
			if !ok {
				return cli.Exit(fmt.Sprintf("pool %q has no strategy", symbol), 1)
			}

			switch s := s.(type) {
			case *strategy.MarketCap:
				data, err := s.ComputeWeights(ctx, poolAddr)
				if err != nil {
					return cli.Exit(err, 1)
				}
				return printJSON(map[string]interface{}{"pool": symbol, "kind": s.Kind(), "weights": data})
			case *strategy.InstantRebind:
				plan, positions, err := s.Plan(ctx, poolAddr)
				if err != nil {
					return cli.Exit(err, 1)
				}
				return printJSON(map[string]interface{}{"pool": symbol, "kind": s.Kind(), "positions": positions, "plan": plan})
			default:
				return cli.Exit(fmt.Sprintf("strategy kind %q cannot be previewed", s.Kind()), 1)
			}
		},
	}
}

func quoteCmd() *cli.Command {
	return &cli.Command{
		Name:  "quote",
		Usage: "Price a report for a client without sending it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "client", Usage: "strategy name of the client", Required: true},
			&cli.UintFlag{Name: "gas-used", Usage: "metered gas of the report", Value: 200000},
			&cli.UintFlag{Name: "gas-price-gwei", Usage: "gas price of the report", Value: 100},
			&cli.UintFlag{Name: "messages", Usage: "pools the report pokes", Value: 1},
			&cli.BoolFlag{Name: "native", Usage: "pay in the native denomination"},
			&cli.UintFlag{Name: "plan", Usage: "bonus plan; 0 uses the client's default"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			d, err := build(ctx, cmd, nil)
			if err != nil {
				return err
			}
			client, err := clientOf(d, cmd.String("client"))
			if err != nil {
				return err
			}
			quote, err := d.Layer.CompensationQuote(ctx, client,
				cmd.Uint("gas-used"),
				gwei(cmd.Uint("gas-price-gwei")),
				int(cmd.Uint("messages")),
				poke.RewardOptions{CompensateInNative: cmd.Bool("native"), PlanID: cmd.Uint("plan")})
			if err != nil {
				return cli.Exit(err, 1)
			}
			return printJSON(quote)
		},
	}
}

func pokeCmd() *cli.Command {
	return &cli.Command{
		Name:  "poke",
		Usage: "Send one report against a fresh deployment and print the outcome with its events",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "client", Usage: "strategy name of the client", Required: true},
			&cli.UintFlag{Name: "reporter", Usage: "reporter id", Value: 1},
			&cli.StringFlag{Name: "poker", Usage: "poker key of the reporter; defaults to the one the descriptor registered"},
			&cli.UintFlag{Name: "gas-price-gwei", Usage: "gas price of the report", Value: 100},
			&cli.BoolFlag{Name: "slasher", Usage: "report through the slashing path"},
			&cli.BoolFlag{Name: "native", Usage: "pay in the native denomination"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rec := events.NewRecorder()
			d, err := build(ctx, cmd, rec)
			if err != nil {
				return err
			}
			rec.Reset()
			client, err := clientOf(d, cmd.String("client"))
			if err != nil {
				return err
			}

			id := cmd.Uint("reporter")
			poker, err := pokerOf(d, id, cmd.String("poker"))
			if err != nil {
				return err
			}
			opts := poke.RewardOptions{CompensateInNative: cmd.Bool("native")}

			var report poke.Report
			receipt, err := d.Ledger.Execute(ctx, poker, gwei(cmd.Uint("gas-price-gwei")), func(tx *ledger.Tx) error {
				var err error
				if cmd.Bool("slasher") {
					report, err = d.Layer.PokeFromSlasher(tx, client, id, opts)
				} else {
					report, err = d.Layer.PokeFromReporter(tx, client, id, opts)
				}
				return err
			})
			if err != nil {
				return cli.Exit(err, 1)
			}
			return printJSON(map[string]interface{}{
				"receipt": receipt,
				"report":  report,
				"events":  rec.Events(),
			})
		},
	}
}

// build deploys the descriptor on a manual clock set to its start plus --after.
func build(ctx context.Context, cmd *cli.Command, sink events.Sink) (*deployment.Deployment, error) {
	desc, err := config.LoadDeployment(cmd.String("deployment"))
	if err != nil {
		return nil, cli.Exit(err, 1)
	}
	clock := ledger.NewManualClock(desc.Start(time.Now()))
	d, err := deployment.Build(ctx, desc, deployment.Options{Clock: clock, Sink: sink})
	if err != nil {
		return nil, cli.Exit(err, 1)
	}
	if after := cmd.Duration("after"); after > 0 {
		clock.Advance(after)
	}
	return d, nil
}

func strategyOf(d *deployment.Deployment, poolAddr common.Address) (strategy.Strategy, bool) {
	for _, name := range d.StrategyNames() {
		s, _ := d.Strategy(name)
		if slices.Contains(s.Pools(), poolAddr) {
			return s, true
		}
	}
	return nil, false
}

func clientOf(d *deployment.Deployment, name string) (common.Address, error) {
	s, ok := d.Strategy(name)
	if !ok {
		return common.Address{}, cli.Exit(fmt.Sprintf("unknown strategy %q", name), 1)
	}
	return s.Address(), nil
}

// pokerOf resolves the key a report is sent from: override when set, otherwise the reporter's registered poker.
func pokerOf(d *deployment.Deployment, id uint64, override string) (common.Address, error) {
	if override != "" {
		if !common.IsHexAddress(override) {
			return common.Address{}, cli.Exit(fmt.Sprintf("poker %q is not a hex address", override), 1)
		}
		return common.HexToAddress(override), nil
	}
	r, err := d.Layer.Reporter(id)
	if err != nil {
		return common.Address{}, cli.Exit(err, 1)
	}
	return r.Poker, nil
}

func gwei(n uint64) sdkmath.Int {
	return sdkmath.NewIntFromUint64(n).MulRaw(params.GWei)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
