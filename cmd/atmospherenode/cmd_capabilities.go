package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
)

func runCapabilities(args []string) {
	if err := doCapabilities(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doCapabilities(args []string, stdout io.Writer) error {
	args = reorderArgs(args, map[string]bool{"json": true})
	fs := flag.NewFlagSet("capabilities", flag.ContinueOnError)
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

	caps, err := client.Capabilities()
	if err != nil {
		return err
	}

	if *jsonFlag {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(caps)
	}

	if len(caps) == 0 {
		fmt.Fprintln(stdout, "No capabilities known.")
		return nil
	}
	fmt.Fprintf(stdout, "%-24s %-8s %-6s %-8s %s\n", "CAPABILITY", "VIA", "HOPS", "LOCAL", "LABEL")
	for _, c := range caps {
		via := c.ViaPeer
		if c.Local {
			via = "-"
		}
		fmt.Fprintf(stdout, "%-24s %-8s %-6d %-8t %s\n", c.CapabilityID, via, c.Hops, c.Local, c.Label)
	}
	return nil
}
