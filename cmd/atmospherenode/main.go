package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X main.version=0.1.0 -X main.commit=$(git rev-parse --short HEAD) -X main.buildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)" -o atmospherenode ./cmd/atmospherenode
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// osExit is a package-level indirection over os.Exit so tests can
// intercept process termination instead of killing the test binary.
var osExit = os.Exit

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if len(os.Args) < 2 {
		printUsage()
		osExit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "start":
		runStart(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "peers":
		runPeers(os.Args[2:])
	case "capabilities":
		runCapabilities(os.Args[2:])
	case "route":
		runRoute(os.Args[2:])
	case "dispatch":
		runDispatch(os.Args[2:])
	case "invite":
		runInvite(os.Args[2:])
	case "join":
		runJoin(os.Args[2:])
	case "config":
		runConfig(os.Args[2:])
	case "whoami":
		runWhoami(os.Args[2:])
	case "version", "--version":
		printVersion()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		osExit(1)
	}
}

func printVersion() {
	fmt.Printf("atmospherenode %s (%s) built %s\n", version, commit, buildDate)
	fmt.Printf("Go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func printUsage() {
	fmt.Println("Usage: atmospherenode <command> [options]")
	fmt.Println()
	fmt.Println("Node lifecycle:")
	fmt.Println("  init                                     Create a fresh config and data directory")
	fmt.Println("  start [--config path] [--foreground]     Start the node (libp2p host + control API)")
	fmt.Println()
	fmt.Println("Query (talk to a running node via its control socket):")
	fmt.Println("  status [--config path] [--json]          Show node health")
	fmt.Println("  peers [--config path] [--json]           List peers the node currently sees")
	fmt.Println("  capabilities [--config path] [--json]    List capabilities known to the gradient table")
	fmt.Println("  route <query> [--prefer-local] [--json]  Score a query against known capabilities")
	fmt.Println("  dispatch <query> --prompt <text> [--tool] [--timeout 30] [--json]")
	fmt.Println()
	fmt.Println("Mesh membership:")
	fmt.Println("  invite [--relay URL] [--ttl 1h]          Mint a portable invite token")
	fmt.Println("  join <token>                              Adopt a mesh from an invite token")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  config validate [--config path]          Validate config")
	fmt.Println("  config show     [--config path]          Show resolved config")
	fmt.Println("  config rollback [--config path]          Restore last-known-good config")
	fmt.Println("  config apply <file> [--timeout 5m]       Apply a new config, auto-reverting if not confirmed")
	fmt.Println("  config confirm  [--config path]          Confirm a pending config apply")
	fmt.Println("  config snapshots [--config path]         List saved config snapshots")
	fmt.Println()
	fmt.Println("  whoami                                    Show this device's peer ID")
	fmt.Println("  version                                   Show version information")
	fmt.Println()
	fmt.Println("All commands support --config <path> to specify a config file.")
	fmt.Println("Without --config, atmospherenode searches: ./atmosphere.yaml, ~/.config/atmosphere/config.yaml, /etc/atmosphere/config.yaml")
	fmt.Println()
	fmt.Println("Get started:  atmospherenode init && atmospherenode start")
}
