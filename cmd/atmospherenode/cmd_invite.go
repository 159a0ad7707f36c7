package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"
)

func runInvite(args []string) {
	if err := doInvite(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doInvite(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("invite", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")
	relayFlag := fs.String("relay", "", "wide-area relay URL to embed in the invite (optional)")
	ttlFlag := fs.String("ttl", "", "invite expiry, e.g. 1h (default: never expires)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var ttl time.Duration
	if *ttlFlag != "" {
		d, err := time.ParseDuration(*ttlFlag)
		if err != nil {
			return fmt.Errorf("invalid --ttl: %w", err)
		}
		ttl = d
	}

	client, err := dialDaemon(*configFlag)
	if err != nil {
		return err
	}

	token, err := client.Invite(*relayFlag, int64(ttl.Seconds()))
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, token)
	return nil
}
