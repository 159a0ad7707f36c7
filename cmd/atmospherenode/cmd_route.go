package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atmosphere-mesh/corenode/internal/router"
)

func runRoute(args []string) {
	if err := doRoute(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doRoute(args []string, stdout io.Writer) error {
	args = reorderArgs(args, map[string]bool{"json": true, "prefer-local": true})
	fs := flag.NewFlagSet("route", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")
	jsonFlag := fs.Bool("json", false, "output as JSON")
	preferLocal := fs.Bool("prefer-local", false, "add a +0.10 score bias to zero-hop (local) capabilities")
	maxLatency := fs.Float64("max-latency-ms", 0, "hard filter: reject candidates above this latency")
	features := fs.String("features", "", "comma-separated required features (e.g. tools,vision)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	remaining := fs.Args()
	if len(remaining) < 1 {
		return fmt.Errorf("usage: atmospherenode route <query> [--prefer-local] [--max-latency-ms N] [--features a,b] [--json]")
	}
	query := strings.Join(remaining, " ")

	client, err := dialDaemon(*configFlag)
	if err != nil {
		return err
	}

	constraints := router.Constraints{
		MaxLatencyMs: *maxLatency,
		PreferLocal:  *preferLocal,
	}
	if *features != "" {
		constraints.RequiredFeatures = strings.Split(*features, ",")
	}

	decision, err := client.Route(query, constraints)
	if err != nil {
		return err
	}

	if *jsonFlag {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(decision)
	}

	fmt.Fprintf(stdout, "Capability: %s\n", decision.CapabilityID)
	fmt.Fprintf(stdout, "Peer:       %s\n", decision.PeerID)
	fmt.Fprintf(stdout, "Method:     %s\n", decision.MatchMethod)
	fmt.Fprintf(stdout, "Score:      %.3f\n", decision.ScoreBreakdown.Composite)
	fmt.Fprintf(stdout, "Why:        %s\n", decision.Explanation)
	if len(decision.Alternatives) > 0 {
		fmt.Fprintln(stdout, "Alternatives:")
		for _, alt := range decision.Alternatives {
			fmt.Fprintf(stdout, "  %s @ %s (%.3f)\n", alt.CapabilityID, alt.PeerID, alt.Score)
		}
	}
	return nil
}
