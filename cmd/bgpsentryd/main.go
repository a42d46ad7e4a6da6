// Command bgpsentryd wires every BGP-Sentry component into a runnable
// simulation: it loads the dataset and configuration, constructs one
// virtual node per AS, drives each validator's observation stream,
// and prints the run's summary report on exit. Flag parsing is kept
// to the handful of file paths a run needs — spec.md §1's Non-goals
// exclude building out a full CLI, so this stays a thin wiring layer
// rather than a command framework, in the style of the teacher's
// smaller single-purpose commands (cmd/checker, cmd/benchmark-simple)
// rather than its cobra-based root command.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atahabilder1/bgp-sentry/internal/attackconsensus"
	"github.com/atahabilder1/bgp-sentry/internal/bgptypes"
	"github.com/atahabilder1/bgp-sentry/internal/bus"
	"github.com/atahabilder1/bgp-sentry/internal/chain"
	"github.com/atahabilder1/bgp-sentry/internal/config"
	"github.com/atahabilder1/bgp-sentry/internal/dataset"
	"github.com/atahabilder1/bgp-sentry/internal/detector"
	"github.com/atahabilder1/bgp-sentry/internal/knowledge"
	"github.com/atahabilder1/bgp-sentry/internal/ledger"
	"github.com/atahabilder1/bgp-sentry/internal/logging"
	"github.com/atahabilder1/bgp-sentry/internal/node"
	"github.com/atahabilder1/bgp-sentry/internal/oracle"
	"github.com/atahabilder1/bgp-sentry/internal/rating"
	"github.com/atahabilder1/bgp-sentry/internal/report"
	"github.com/atahabilder1/bgp-sentry/internal/signing"
	"github.com/atahabilder1/bgp-sentry/internal/txpool"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config overlay (optional; defaults apply otherwise)")
	asFile := flag.String("as-classification", "", "path to the AS classification JSON file")
	vrpFile := flag.String("vrp", "", "path to the VRP table JSON file")
	obsDir := flag.String("observations-dir", "", "directory containing one <asn>.json observation file per validator")
	devLog := flag.Bool("dev-log", false, "use a human-readable development logger instead of the production JSON logger")
	flag.Parse()

	if *asFile == "" || *vrpFile == "" || *obsDir == "" {
		fmt.Fprintln(os.Stderr, "usage: bgpsentryd -as-classification=FILE -vrp=FILE -observations-dir=DIR [-config=FILE] [-dev-log]")
		os.Exit(2)
	}

	log, err := newLogger(*devLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(*configPath, *asFile, *vrpFile, *obsDir, log); err != nil {
		log.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(dev bool) (logging.Logger, error) {
	if dev {
		return logging.NewDevelopment()
	}
	return logging.New()
}

func run(configPath, asFile, vrpFile, obsDir string, log logging.Logger) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadYAML(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	records, err := dataset.LoadASClassification(asFile)
	if err != nil {
		return fmt.Errorf("loading AS classification: %w", err)
	}
	vrp, err := dataset.LoadVRPTable(vrpFile)
	if err != nil {
		return fmt.Errorf("loading VRP table: %w", err)
	}
	orc, err := oracle.New(vrp)
	if err != nil {
		return fmt.Errorf("building validation oracle: %w", err)
	}

	var validators []bgptypes.ASN
	for _, r := range records {
		if r.Role == dataset.RoleValidator {
			validators = append(validators, r.ASN)
		}
	}

	signer := signing.NewRegistry()
	b := bus.New(cfg.BusInboxCap, log)
	led := ledger.New(cfg)
	rat := rating.New(cfg)
	collector := report.NewCollector()
	orch := newOrchestrator(cfg, led, rat, collector, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	observationsByNode := make(map[bgptypes.ASN][]bgptypes.Observation)

	for _, r := range records {
		b.Register(r.ASN)
		n := &node.Node{
			ASN:       r.ASN,
			Bus:       b,
			Knowledge: knowledge.New(cfg.KnowledgeWindow, cfg.KnowledgeMax, cfg.RpkiDedupWindow, cfg.NonrpkiDedupWindow, cfg.LastSeenMax),
			Log:       log,
			Collector: collector,
		}

		if r.Role != dataset.RoleValidator {
			n.Role = node.RoleObserved
			orch.nodes[r.ASN] = n
			continue
		}

		n.Role = node.RoleValidator
		if err := signer.Generate(r.ASN); err != nil {
			return fmt.Errorf("generating keypair for AS%d: %w", r.ASN, err)
		}
		c, err := chain.New(signer, r.ASN, nil)
		if err != nil {
			return fmt.Errorf("initializing chain for AS%d: %w", r.ASN, err)
		}
		flaps := detector.NewFlapHistory(cfg.FlapWindow, cfg.FlapThreshold, cfg.FlapDedup)

		n.Oracle = orc
		n.Flaps = flaps
		n.Pool = txpool.New(cfg, r.ASN, signer, b, c, n.Knowledge, orc, flaps, validators, orch, log)
		n.Attack = attackconsensus.New(cfg, r.ASN, signer, b, c, orc, flaps, n.Knowledge, validators, orch, log)
		orch.nodes[r.ASN] = n

		path := obsDir + "/" + fmt.Sprint(uint32(r.ASN)) + ".json"
		obs, err := dataset.LoadObservations(path, r.ASN)
		if err != nil {
			return fmt.Errorf("loading observations for AS%d: %w", r.ASN, err)
		}
		observationsByNode[r.ASN] = obs
	}

	for _, r := range records {
		if r.Role != dataset.RoleValidator {
			continue
		}
		n := orch.nodes[r.ASN]
		wg.Add(3)
		go func(n *node.Node) { defer wg.Done(); n.Pool.Run(ctx) }(n)
		go func(n *node.Node) { defer wg.Done(); n.Attack.Run(ctx) }(n)
		go func(n *node.Node) { defer wg.Done(); n.RunInboxConsumer(ctx, time.Now) }(n)
	}

	driveObservations(cfg, orch, observationsByNode)

	cancel()
	wg.Wait()

	summary := report.BuildSummary(collector, tokenEconomySnapshot(led, orch))
	log.Info("run complete",
		zap.String("run_id", summary.RunID),
		zap.Uint64("observations", summary.TotalObservations),
		zap.Uint64("committed", summary.TotalCommitted),
		zap.Int("attacks_confirmed", summary.TotalAttacksConfirmed),
		zap.Int("attacks_rejected", summary.TotalAttacksRejected),
		zap.Float64("final_treasury", summary.FinalTreasury),
	)
	return nil
}

// driveObservations replays each validator's observation stream in
// timestamp order, scaling the inter-observation wait by
// cfg.SpeedMultiplier (spec.md §6: "SpeedMultiplier (1.0 = real-time)").
// Every validator's stream is driven on its own goroutine so one
// node's pace never blocks another's. Ingestion/detection/dedup/
// proposal counters are recorded by the node itself as each outcome
// actually happens (see node.Node.Collector), not guessed at here.
func driveObservations(cfg *config.Config, orch *orchestrator, byNode map[bgptypes.ASN][]bgptypes.Observation) {
	var wg sync.WaitGroup
	for asn, obs := range byNode {
		wg.Add(1)
		go func(asn bgptypes.ASN, obs []bgptypes.Observation) {
			defer wg.Done()
			n := orch.nodes[asn]
			var lastTS float64
			first := true
			for _, o := range obs {
				if !first && cfg.SpeedMultiplier > 0 {
					delta := o.Timestamp - lastTS
					if delta > 0 {
						time.Sleep(time.Duration(delta/cfg.SpeedMultiplier) * time.Second)
					}
				}
				first = false
				lastTS = o.Timestamp
				n.IngestObservation(o, time.Now())
			}
		}(asn, obs)
	}
	wg.Wait()
}

func tokenEconomySnapshot(led *ledger.Ledger, orch *orchestrator) report.TokenEconomySnapshot {
	balances := make(map[bgptypes.ASN]float64, len(orch.nodes))
	for asn := range orch.nodes {
		balances[asn] = led.Balance(asn)
	}
	return report.TokenEconomy(led.TotalSupply(), led.Treasury(), led.Burned(), led.Recycled(), balances, led.Log())
}
