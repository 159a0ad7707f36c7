package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"
)

func runPeers(args []string) {
	if err := doPeers(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doPeers(args []string, stdout io.Writer) error {
	args = reorderArgs(args, map[string]bool{"json": true})
	fs := flag.NewFlagSet("peers", flag.ContinueOnError)
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

	peers, err := client.Peers()
	if err != nil {
		return err
	}

	if *jsonFlag {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(peers)
	}

	if len(peers) == 0 {
		fmt.Fprintln(stdout, "No peers connected.")
		return nil
	}
	fmt.Fprintf(stdout, "%-20s %-8s %s\n", "PEER", "VIA", "LAST SEEN")
	for _, p := range peers {
		fmt.Fprintf(stdout, "%-20s %-8s %s\n", p.ID, p.Transport, time.Unix(p.LastSeen, 0).Format(time.RFC3339))
	}
	return nil
}
