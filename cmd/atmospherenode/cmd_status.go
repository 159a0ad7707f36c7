package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/atmosphere-mesh/corenode/internal/termcolor"
)

func runStatus(args []string) {
	if err := doStatus(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doStatus(args []string, stdout io.Writer) error {
	args = reorderArgs(args, map[string]bool{"json": true})
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")
	jsonFlag := fs.Bool("json", false, "output as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := dialDaemon(*configFlag)
	if err != nil {
		return err
	}

	status, err := client.Status()
	if err != nil {
		return err
	}

	if *jsonFlag {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Fprintf(stdout, "Peer ID:      %s\n", status.PeerID)
	fmt.Fprintf(stdout, "Version:      %s\n", status.Version)
	fmt.Fprintf(stdout, "Uptime:       %ds\n", status.UptimeSeconds)
	fmt.Fprintf(stdout, "Mesh port:    %d\n", status.MeshPort)
	fmt.Fprintf(stdout, "Peers:        %d\n", status.ConnectedPeers)
	fmt.Fprintf(stdout, "Capabilities: %d\n", status.CapabilityCount)
	fmt.Fprintln(stdout, "Transports:")
	names := make([]string, 0, len(status.Transports))
	for name := range status.Transports {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if status.Transports[name] {
			termcolor.Green("  %-8s up", name)
		} else {
			termcolor.Red("  %-8s down", name)
		}
	}
	return nil
}
