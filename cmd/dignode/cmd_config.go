package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dignetwork/dignode/internal/config"
)

func runConfig(args []string) {
	if err := doConfig(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

// doConfig dispatches the "config" admin subcommands: apply a new config
// under commit-confirmed protection, confirm or roll back a pending
// change, and snapshot/restore the config directory. These guard a
// headless node against a bad config edit locking out the operator who
// made it, the way network-gear commit-confirm does.
func doConfig(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: dignode config <apply|confirm|rollback|snapshot|restore|list> [options]")
	}

	sub, rest := args[0], args[1:]
	fs := flag.NewFlagSet("config "+sub, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")

	switch sub {
	case "apply":
		timeout := fs.Duration("timeout", 5*time.Minute, "revert deadline if the new config is not confirmed")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: dignode config apply <new-config-path> [--timeout 5m]")
		}
		cfgFile, err := config.FindConfigFile(*configFlag)
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		if err := config.ApplyCommitConfirmed(cfgFile, fs.Arg(0), *timeout); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "applied %s, reverts in %s unless confirmed with `dignode config confirm`\n", fs.Arg(0), *timeout)
		return nil

	case "confirm":
		if err := fs.Parse(rest); err != nil {
			return err
		}
		cfgFile, err := config.FindConfigFile(*configFlag)
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		if err := config.Confirm(cfgFile); err != nil {
			return err
		}
		if err := config.Archive(cfgFile); err != nil {
			fmt.Fprintf(stdout, "confirmed (warning: failed to refresh last-known-good archive: %v)\n", err)
			return nil
		}
		fmt.Fprintln(stdout, "confirmed")
		return nil

	case "rollback":
		if err := fs.Parse(rest); err != nil {
			return err
		}
		cfgFile, err := config.FindConfigFile(*configFlag)
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		if err := config.Rollback(cfgFile); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "rolled back to last-known-good config")
		return nil

	case "snapshot":
		backupDir := fs.String("backup-dir", "", "directory to store the snapshot in (default: <config-dir>/backups)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		cfgFile, err := config.FindConfigFile(*configFlag)
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		sourceDir := filepath.Dir(cfgFile)
		dir := *backupDir
		if dir == "" {
			dir = filepath.Join(sourceDir, "backups")
		}
		sm := config.NewSnapshotManager(dir)
		snap, err := sm.Create(sourceDir, snapshotFileNames(cfgFile))
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "snapshot %s created with %d file(s)\n", snap.Name, len(snap.Files))
		return nil

	case "list":
		backupDir := fs.String("backup-dir", "", "directory the snapshots were stored in")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		cfgFile, err := config.FindConfigFile(*configFlag)
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		dir := *backupDir
		if dir == "" {
			dir = filepath.Join(filepath.Dir(cfgFile), "backups")
		}
		sm := config.NewSnapshotManager(dir)
		snapshots, err := sm.List()
		if err != nil {
			return err
		}
		for _, s := range snapshots {
			fmt.Fprintf(stdout, "%s  %s  %d file(s)\n", s.Name, s.Timestamp.Format(time.RFC3339), len(s.Files))
		}
		return nil

	case "restore":
		backupDir := fs.String("backup-dir", "", "directory the snapshots were stored in")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: dignode config restore <snapshot-name> [--backup-dir dir]")
		}
		cfgFile, err := config.FindConfigFile(*configFlag)
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		targetDir := filepath.Dir(cfgFile)
		dir := *backupDir
		if dir == "" {
			dir = filepath.Join(targetDir, "backups")
		}
		sm := config.NewSnapshotManager(dir)
		snapshots, err := sm.List()
		if err != nil {
			return err
		}
		var match *config.Snapshot
		for i := range snapshots {
			if snapshots[i].Name == fs.Arg(0) {
				match = &snapshots[i]
				break
			}
		}
		if match == nil {
			return fmt.Errorf("no snapshot named %q in %s", fs.Arg(0), dir)
		}
		if err := sm.Restore(match, targetDir); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "restored %s\n", match.Name)
		return nil

	default:
		return fmt.Errorf("unknown config subcommand %q", sub)
	}
}

// snapshotFileNames lists the config-directory files a snapshot should
// cover: the config file itself plus the authorized_keys allowlist, if
// one is configured.
func snapshotFileNames(cfgFile string) []string {
	names := []string{filepath.Base(cfgFile)}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return names
	}
	config.ResolveConfigPaths(cfg, filepath.Dir(cfgFile))
	if cfg.Security.AuthorizedKeysFile != "" {
		names = append(names, filepath.Base(cfg.Security.AuthorizedKeysFile))
	}
	return names
}
