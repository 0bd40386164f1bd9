package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/vaultdesk/pnl-engine/internal/asset"
	"github.com/vaultdesk/pnl-engine/internal/ledger"
	"github.com/vaultdesk/pnl-engine/internal/model"
	"github.com/vaultdesk/pnl-engine/internal/pnl"
)

// replayCmd holds the flags for the 'replay' subcommand.
type replayCmd struct {
	method string
	prices string
	sells  bool
}

func (*replayCmd) Name() string     { return "replay" }
func (*replayCmd) Synopsis() string { return "apply a JSONL trade file and report P&L" }
func (*replayCmd) Usage() string {
	return `pnlctl replay [-method fifo] [-prices prices.json] [-sells] <trades.jsonl | ->

  Applies each trade event of the file, one JSON object per line, to a fresh
  engine and prints holdings, realized P&L and, when prices are given,
  unrealized P&L and portfolio totals.

  Event lines use the journal format:
    {"kind":"BUY","symbol":"BTC","quantity":"1","value":"10000","timestamp":"2025-01-02T15:00:00Z"}
    {"kind":"SELL","symbol":"BTC","quantity":"0.5","value":"6500","timestamp":"2025-02-01T10:00:00Z"}

  The prices file maps symbols to market values:
    {"BTC":{"total_value":"6500","quantity":"0.5"}}
`
}

func (c *replayCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.method, "method", pnl.FIFO.String(), "Accounting method (fifo, lifo, specific)")
	f.StringVar(&c.prices, "prices", "", "Path to a JSON file of market values by symbol")
	f.BoolVar(&c.sells, "sells", false, "Include the per-lot breakdown of every sell")
}

func (c *replayCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one trade file is required.")
		return subcommands.ExitUsageError
	}
	method, err := pnl.ParseMethod(c.method)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing method: %v\n", err)
		return subcommands.ExitUsageError
	}

	var prices map[asset.Symbol]pnl.MarketValue
	if c.prices != "" {
		if prices, err = loadPrices(c.prices); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading prices %q: %v\n", c.prices, err)
			return subcommands.ExitFailure
		}
	}

	in := io.Reader(os.Stdin)
	if name := f.Arg(0); name != "-" {
		file, err := os.Open(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening trade file: %v\n", err)
			return subcommands.ExitFailure
		}
		defer file.Close()
		in = file
	}

	rep, err := replayTrades(in, method, prices, c.sells)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// report is the JSON document printed by replay.
type report struct {
	Method      pnl.Method                         `json:"method"`
	Entries     int                                `json:"entries"`
	Holdings    map[asset.Symbol]pnl.Holding       `json:"holdings"`
	RealizedPnL decimal.Decimal                    `json:"realized_pnl"`
	Sells       []*pnl.SellResult                  `json:"sells,omitempty"`
	Unrealized  map[asset.Symbol]pnl.UnrealizedPnL `json:"unrealized,omitempty"`
	Totals      *pnl.PortfolioTotals               `json:"totals,omitempty"`
}

// replayTrades applies every event of r to a fresh engine. Blank lines and
// lines starting with '#' are skipped.
func replayTrades(r io.Reader, method pnl.Method, prices map[asset.Symbol]pnl.MarketValue, withSells bool) (*report, error) {
	e := pnl.NewEngine(method)
	rep := &report{}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		var entry model.JournalEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		res, err := ledger.Apply(e, entry)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", line, entry.Kind, err)
		}
		rep.Entries++
		if res != nil && withSells {
			rep.Sells = append(rep.Sells, res)
		}
		slog.Debug("applied", "line", line, "kind", entry.Kind, "symbol", entry.Symbol)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	rep.Method = e.Method()
	rep.Holdings = e.Holdings()
	rep.RealizedPnL = e.RealizedPnL()
	if prices != nil {
		rep.Unrealized = e.UnrealizedPnL(prices)
		totals := e.PortfolioTotals(prices)
		rep.Totals = &totals
	}
	return rep, nil
}

func loadPrices(name string) (map[asset.Symbol]pnl.MarketValue, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	var raw map[string]pnl.MarketValue
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	prices := make(map[asset.Symbol]pnl.MarketValue, len(raw))
	for s, v := range raw {
		sym, err := asset.ParseSymbol(s)
		if err != nil {
			return nil, err
		}
		prices[sym] = v
	}
	return prices, nil
}
