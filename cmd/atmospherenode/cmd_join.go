package main

import (
	"flag"
	"fmt"
	"io"
	"os"
)

func runJoin(args []string) {
	if err := doJoin(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doJoin(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("join", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	remaining := fs.Args()
	if len(remaining) < 1 {
		return fmt.Errorf("usage: atmospherenode join <invite-token>")
	}
	token := remaining[0]

	client, err := dialDaemon(*configFlag)
	if err != nil {
		return err
	}

	if err := client.Join(token); err != nil {
		return err
	}

	fmt.Fprintln(stdout, "Joined mesh. Restart the node to rebuild its transport layer against the new shared secret:")
	fmt.Fprintln(stdout, "  atmospherenode start")
	return nil
}
