package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atmosphere-mesh/corenode/internal/daemon"
	"github.com/atmosphere-mesh/corenode/internal/dispatch"
	"github.com/atmosphere-mesh/corenode/internal/router"
)

func runDispatch(args []string) {
	if err := doDispatch(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doDispatch(args []string, stdout io.Writer) error {
	args = reorderArgs(args, map[string]bool{"json": true, "tool": true, "prefer-local": true})
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")
	promptFlag := fs.String("prompt", "", "user prompt (required)")
	toolFlag := fs.Bool("tool", false, "dispatch over the tool-call collection pair instead of chat")
	timeoutFlag := fs.Int64("timeout", 30, "response timeout in seconds")
	jsonFlag := fs.Bool("json", false, "output as JSON")
	preferLocal := fs.Bool("prefer-local", false, "add a +0.10 score bias to zero-hop (local) capabilities")
	features := fs.String("features", "", "comma-separated required features")
	if err := fs.Parse(args); err != nil {
		return err
	}

	remaining := fs.Args()
	if len(remaining) < 1 {
		return fmt.Errorf("usage: atmospherenode dispatch <query> --prompt <text> [--tool] [--timeout 30] [--json]")
	}
	query := strings.Join(remaining, " ")
	if *promptFlag == "" {
		return fmt.Errorf("--prompt is required")
	}

	client, err := dialDaemon(*configFlag)
	if err != nil {
		return err
	}

	constraints := router.Constraints{PreferLocal: *preferLocal}
	if *features != "" {
		constraints.RequiredFeatures = strings.Split(*features, ",")
	}
	messages := []dispatch.Message{{Role: "user", Content: *promptFlag}}

	var resp *daemon.DispatchResponse
	if *toolFlag {
		resp, err = client.DispatchTool(query, constraints, *promptFlag, messages, *timeoutFlag)
	} else {
		resp, err = client.Dispatch(query, constraints, *promptFlag, messages, *timeoutFlag)
	}
	if err != nil {
		return err
	}

	if *jsonFlag {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	if resp.RemoteErr != "" {
		return fmt.Errorf("remote error from %s: %s", resp.PeerID, resp.RemoteErr)
	}
	fmt.Fprintln(stdout, resp.Content)
	return nil
}
