package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/atmosphere-mesh/corenode/internal/config"
	"github.com/atmosphere-mesh/corenode/internal/identity"
)

func runInit(args []string) {
	if err := doInit(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doInit(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dirFlag := fs.String("dir", "", "config directory (default: ~/.config/atmosphere)")
	appIDFlag := fs.String("app-id", "atmosphere", "application id this node serves (spec.md handshake app_id)")
	relayFlag := fs.String("relay", "", "wide-area relay URL (optional; LAN-only if omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	configDir := *dirFlag
	if configDir == "" {
		d, err := config.DefaultConfigDir()
		if err != nil {
			return fmt.Errorf("cannot determine config directory: %w", err)
		}
		configDir = d
	}

	configFile := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config already exists: %s\nDelete it first if you want to reinitialize", configFile)
	}

	fmt.Fprintf(stdout, "Creating config directory: %s\n", configDir)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	dataDir := filepath.Join(configDir, "data")
	cfg := config.DefaultNodeConfig(dataDir, *appIDFlag)
	cfg.Network.RelayURL = *relayFlag
	config.ResolveConfigPaths(cfg, configDir)

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	fmt.Fprintln(stdout, "Generating identity...")
	peerID, err := identity.PeerIDFromKeyFile(cfg.Identity.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to generate identity: %w", err)
	}

	if err := config.SaveNodeConfig(configFile, cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(stdout, "Config written to:  %s\n", configFile)
	fmt.Fprintf(stdout, "Identity saved to:  %s\n", cfg.Identity.KeyFile)
	fmt.Fprintf(stdout, "Your Peer ID:       %s\n", peerID)
	fmt.Fprintln(stdout)
	if *relayFlag == "" {
		fmt.Fprintln(stdout, "No relay configured; this node will only reach peers on its LAN segment.")
		fmt.Fprintln(stdout, "Re-run with --relay <url> later, or edit the config's network.relay_url.")
	}
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "This device starts as the sole member of a brand new mesh.")
	fmt.Fprintln(stdout, "Next steps:")
	fmt.Fprintln(stdout, "  1. Start the node:        atmospherenode start")
	fmt.Fprintln(stdout, "  2. Invite another device: atmospherenode invite")
	return nil
}
