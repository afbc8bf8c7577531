// Package main runs an offline forward-test simulation: scenarios from a
// JSON file replayed against candles from a CSV file, entirely in memory.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/feed"
	"trade-forwardtest/internal/fillsim"
	"trade-forwardtest/internal/intake"
	"trade-forwardtest/internal/lock"
	"trade-forwardtest/internal/monitor"
	"trade-forwardtest/internal/observability"
	"trade-forwardtest/internal/outcome"
	"trade-forwardtest/internal/portfolio"
	"trade-forwardtest/internal/storage"
	"trade-forwardtest/internal/storage/memory"
)

func main() {
	scenariosPath := flag.String("scenarios", "", "JSON file with generator records (required)")
	candlesPath := flag.String("candles", "", "CSV file with 1m candles: symbol,open_time,open,high,low,close,volume (required)")
	tickMinutes := flag.Int("tick-minutes", 60, "Simulated minutes per engine tick")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	observability.SetupLogging(*logLevel, true)

	if *scenariosPath == "" || *candlesPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*scenariosPath, *candlesPath, *tickMinutes); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(scenariosPath, candlesPath string, tickMinutes int) error {
	ctx := context.Background()

	records, err := loadScenarios(scenariosPath)
	if err != nil {
		return err
	}
	candles, err := loadCandles(candlesPath)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return errors.New("no candles loaded")
	}

	snapshots := memory.NewSnapshotStore()
	states := memory.NewMonitorStateStore()
	events := memory.NewEventStore()
	outcomes := memory.NewOutcomeStore()
	candidates := memory.NewCandidateStore()
	positions := memory.NewPositionStore()
	equity := memory.NewEquityStore()
	candleStore := memory.NewCandleStore()

	if err := candleStore.InsertBulk(ctx, candles); err != nil {
		return fmt.Errorf("load candles into store: %w", err)
	}

	minTS, maxTS := candles[0].OpenTime, candles[0].OpenTime
	for _, c := range candles {
		if c.OpenTime < minTS {
			minTS = c.OpenTime
		}
		if c.OpenTime > maxTS {
			maxTS = c.OpenTime
		}
	}

	// The simulated clock jumps forward one tick window per engine tick.
	simNow := time.UnixMilli(minTS)
	clock := func() time.Time { return simNow }

	mgr := portfolio.NewManager(portfolio.Options{
		Config:         portfolio.DefaultConfig(),
		CandidateStore: candidates,
		PositionStore:  positions,
		EquityStore:    equity,
		StateStore:     states,
		Clock:          clock,
	})

	in := intake.New(snapshots, states, poolAdmitter{mgr}, func() int64 { return simNow.UnixMilli() })
	batch := in.CreateBatch(ctx, records)
	fmt.Printf("=== Intake ===\n")
	fmt.Printf("  Created: %d  Duplicates: %d  Errors: %d\n", len(batch.Created), batch.Duplicates, len(batch.Errors))
	for _, e := range batch.Errors {
		fmt.Printf("    - %s: %v\n", e.Scope, e.Err)
	}
	if len(batch.Created) == 0 {
		return errors.New("no scenarios created")
	}

	engine := monitor.NewEngine(monitor.EngineOptions{
		Config:        monitor.DefaultEngineConfig(),
		Machine:       monitor.NewMachine(fillsim.New(fillsim.DefaultParams()), monitor.DefaultMachineConfig()),
		Feed:          feed.NewStoreFeed(candleStore),
		SnapshotStore: snapshots,
		StateStore:    states,
		EventStore:    events,
		Locker:        lock.NewMemoryLocker(),
		Recorder:      outcome.NewRecorder(outcomes, events, mgr, nil, clock),
		Portfolio:     mgr,
		Clock:         clock,
	})

	window := time.Duration(tickMinutes) * time.Minute
	for simNow.UnixMilli() <= maxTS {
		simNow = simNow.Add(window)
		if err := engine.Tick(ctx); err != nil {
			return fmt.Errorf("tick at %s: %w", simNow, err)
		}
	}

	return printSummary(ctx, outcomes, equity, minTS, simNow.UnixMilli())
}

// poolAdmitter adapts the portfolio manager to the intake boundary.
type poolAdmitter struct {
	mgr *portfolio.Manager
}

func (a poolAdmitter) Admit(ctx context.Context, snap *domain.Snapshot) error {
	_, err := a.mgr.Admit(ctx, snap)
	return err
}

func loadScenarios(path string) ([]intake.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}
	var records []intake.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse scenarios: %w", err)
	}
	return records, nil
}

func loadCandles(path string) ([]*domain.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candles: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	var candles []*domain.Candle
	line := 0
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read candles csv: %w", err)
		}
		line++
		if len(row) != 7 {
			return nil, fmt.Errorf("candles csv line %d: want 7 columns, got %d", line, len(row))
		}

		openTime, err := strconv.ParseInt(row[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("candles csv line %d: open_time: %w", line, err)
		}
		vals := make([]float64, 5)
		for i, col := range row[2:] {
			v, err := strconv.ParseFloat(col, 64)
			if err != nil {
				return nil, fmt.Errorf("candles csv line %d column %d: %w", line, i+3, err)
			}
			vals[i] = v
		}

		candles = append(candles, &domain.Candle{
			Symbol:   row[0],
			OpenTime: openTime,
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	return candles, nil
}

func printSummary(ctx context.Context, outcomes storage.OutcomeStore, equity storage.EquityStore, start, end int64) error {
	all, err := outcomes.GetByTimeRange(ctx, start, end)
	if err != nil {
		return fmt.Errorf("load outcomes: %w", err)
	}

	byClass := map[domain.OutcomeClass]int{}
	var totalR float64
	for _, o := range all {
		byClass[o.Class]++
		totalR += o.TotalR
	}

	fmt.Printf("\n=== Outcomes ===\n")
	fmt.Printf("  Total: %d  Win: %d  Loss: %d  Breakeven: %d\n",
		len(all), byClass[domain.OutcomeClassWin], byClass[domain.OutcomeClassLoss], byClass[domain.OutcomeClassBreakeven])
	fmt.Printf("  Sum R: %+.2f\n", totalR)

	if latest, err := equity.Latest(ctx); err == nil {
		fmt.Printf("\n=== Portfolio ===\n")
		fmt.Printf("  Equity: %.2f  Peak: %.2f  Drawdown: %.2f%%\n",
			latest.Equity, latest.PeakEquity, latest.DrawdownPct*100)
		fmt.Printf("  Wins: %d  Losses: %d\n", latest.Wins, latest.Losses)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load equity: %w", err)
	}
	return nil
}
