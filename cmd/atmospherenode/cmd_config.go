package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/atmosphere-mesh/corenode/internal/config"
)

func runConfig(args []string) {
	if len(args) < 1 {
		printConfigUsage()
		osExit(1)
	}

	switch args[0] {
	case "validate":
		runConfigValidate(args[1:])
	case "show":
		runConfigShow(args[1:])
	case "rollback":
		runConfigRollback(args[1:])
	case "apply":
		runConfigApply(args[1:])
	case "confirm":
		runConfigConfirm(args[1:])
	case "snapshots":
		runConfigSnapshots(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config command: %s\n\n", args[0])
		printConfigUsage()
		osExit(1)
	}
}

func printConfigUsage() {
	fmt.Println("Usage: atmospherenode config <validate|show|rollback|apply|confirm|snapshots> [--config path]")
}

func runConfigValidate(args []string) {
	if err := doConfigValidate(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doConfigValidate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("config validate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile, err := config.FindConfigFile(*configFlag)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	cfg, err := config.LoadNodeConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(stdout, "FAIL: %s\n", err)
		return fmt.Errorf("invalid config")
	}

	if err := config.ValidateNodeConfig(cfg); err != nil {
		fmt.Fprintf(stdout, "FAIL: %s\n", err)
		return fmt.Errorf("validation failed")
	}

	if err := config.Archive(cfgFile); err != nil {
		fmt.Fprintf(stdout, "WARNING: failed to archive last-known-good config: %s\n", err)
	}

	fmt.Fprintf(stdout, "OK: %s is valid\n", cfgFile)
	return nil
}

func runConfigShow(args []string) {
	if err := doConfigShow(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doConfigShow(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("config show", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, cfgFile, err := loadConfigShow(*configFlag)
	if err != nil {
		return err
	}

	if err := config.ValidateNodeConfig(cfg); err != nil {
		fmt.Fprintf(stdout, "WARNING: config has validation errors: %v\n\n", err)
	}

	fmt.Fprintf(stdout, "# Resolved config from %s\n", cfgFile)
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Fprint(stdout, string(out))

	if config.HasArchive(cfgFile) {
		fmt.Fprintf(stdout, "\n# Last-known-good archive: %s\n", config.ArchivePath(cfgFile))
	} else {
		fmt.Fprintf(stdout, "\n# No last-known-good archive (will be created on next successful start)\n")
	}
	return nil
}

// loadConfigShow loads the config like loadConfig and returns it with the
// resolved config file path, which config show needs to print and
// archive-check.
func loadConfigShow(explicitPath string) (*config.NodeConfig, string, error) {
	cfgFile, err := config.FindConfigFile(explicitPath)
	if err != nil {
		return nil, "", fmt.Errorf("config error: %w", err)
	}
	cfg, err := config.LoadNodeConfig(cfgFile)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	config.ResolveConfigPaths(cfg, filepath.Dir(cfgFile))
	return cfg, cfgFile, nil
}

func runConfigRollback(args []string) {
	if err := doConfigRollback(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doConfigRollback(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("config rollback", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile, err := config.FindConfigFile(*configFlag)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if !config.HasArchive(cfgFile) {
		return fmt.Errorf("no last-known-good archive for %s", cfgFile)
	}

	if err := config.Rollback(cfgFile); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	fmt.Fprintf(stdout, "Restored %s from last-known-good archive\n", cfgFile)
	fmt.Fprintln(stdout, "You can now restart: atmospherenode start")
	return nil
}

// runConfigApply and runConfigConfirm implement a commit-confirmed config
// swap: a bad config pushed to an unattended node (no one left to notice
// the mesh drop out) reverts itself instead of requiring someone on site.

func runConfigApply(args []string) {
	if err := doConfigApply(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doConfigApply(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("config apply", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")
	timeout := fs.Duration("timeout", 5*time.Minute, "revert automatically if not confirmed within this window")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: atmospherenode config apply <new-config-file> [--timeout 5m]")
	}
	newConfigPath := fs.Arg(0)

	cfgFile, err := config.FindConfigFile(*configFlag)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	newCfg, err := config.LoadNodeConfig(newConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", newConfigPath, err)
	}
	if err := config.ValidateNodeConfig(newCfg); err != nil {
		return fmt.Errorf("%s is invalid: %w", newConfigPath, err)
	}

	configDir := filepath.Dir(cfgFile)
	sm := config.NewSnapshotManager(filepath.Join(configDir, "backups"))
	oldCfg, err := config.LoadNodeConfig(cfgFile)
	snapFiles := []string{filepath.Base(cfgFile)}
	if err == nil && oldCfg.Identity.KeyFile != "" && filepath.Dir(oldCfg.Identity.KeyFile) == configDir {
		snapFiles = append(snapFiles, filepath.Base(oldCfg.Identity.KeyFile))
	}
	if snap, err := sm.Create(configDir, snapFiles); err != nil {
		fmt.Fprintf(stdout, "WARNING: failed to snapshot current config: %s\n", err)
	} else {
		fmt.Fprintf(stdout, "Snapshot saved: %s\n", snap.Path)
	}

	deadline := time.Now().Add(*timeout)
	if err := config.ApplyCommitConfirmed(cfgFile, newConfigPath, *timeout); err != nil {
		return fmt.Errorf("apply failed: %w", err)
	}

	fmt.Fprintf(stdout, "Applied %s to %s\n", newConfigPath, cfgFile)
	fmt.Fprintf(stdout, "Restart the node, then run `atmospherenode config confirm` within %s\n", timeout.String())
	fmt.Fprintln(stdout, "or the previous config reverts automatically.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pollUntilConfirmedOrReverted(ctx, cancel, cfgFile)
	config.EnforceCommitConfirmedWriter(ctx, stdout, cfgFile, deadline, osExit)
	return nil
}

// pollUntilConfirmedOrReverted watches for another process (an operator
// running `config confirm` from a second session, or the running node
// itself after a successful restart) clearing the pending marker, and
// cancels ctx so the waiting EnforceCommitConfirmedWriter call returns
// instead of blocking until its own deadline timer fires.
func pollUntilConfirmedOrReverted(ctx context.Context, cancel context.CancelFunc, cfgFile string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if deadline, _ := config.CheckPending(cfgFile); deadline.IsZero() {
				cancel()
				return
			}
		}
	}
}

func runConfigConfirm(args []string) {
	if err := doConfigConfirm(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doConfigConfirm(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("config confirm", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile, err := config.FindConfigFile(*configFlag)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if err := config.Confirm(cfgFile); err != nil {
		return fmt.Errorf("confirm failed: %w", err)
	}

	fmt.Fprintln(stdout, "Config change confirmed; it will not be reverted.")
	return nil
}

func runConfigSnapshots(args []string) {
	if err := doConfigSnapshots(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doConfigSnapshots(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("config snapshots", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile, err := config.FindConfigFile(*configFlag)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	sm := config.NewSnapshotManager(filepath.Join(filepath.Dir(cfgFile), "backups"))
	snapshots, err := sm.List()
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(stdout, "No snapshots yet. `atmospherenode config apply` creates one before each apply.")
		return nil
	}
	for _, s := range snapshots {
		fmt.Fprintf(stdout, "%s  %s  %v\n", s.Name, s.Timestamp.Format(time.RFC3339), s.Files)
	}
	return nil
}
