package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dignetwork/dignode/internal/auth"
	"github.com/dignetwork/dignode/internal/config"
)

func runKeys(args []string) {
	if err := doKeys(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

// doKeys dispatches the "keys" admin subcommands, which manage the
// authorized_keys allowlist consulted by internal/auth's connection
// gater (internal/transport/host.go).
func doKeys(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: dignode keys <add|remove|list|role> [options]")
	}

	sub, rest := args[0], args[1:]
	fs := flag.NewFlagSet("keys "+sub, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")

	switch sub {
	case "add":
		comment := fs.String("comment", "", "optional comment for this peer")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: dignode keys add <peer-id> [--comment text]")
		}
		path, err := authorizedKeysPath(*configFlag)
		if err != nil {
			return err
		}
		if err := auth.AddPeer(path, fs.Arg(0), *comment); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "added %s\n", fs.Arg(0))
		return nil

	case "remove":
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: dignode keys remove <peer-id>")
		}
		path, err := authorizedKeysPath(*configFlag)
		if err != nil {
			return err
		}
		if err := auth.RemovePeer(path, fs.Arg(0)); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "removed %s\n", fs.Arg(0))
		return nil

	case "list":
		if err := fs.Parse(rest); err != nil {
			return err
		}
		path, err := authorizedKeysPath(*configFlag)
		if err != nil {
			return err
		}
		entries, err := auth.ListPeers(path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			role := e.Role
			if role == "" {
				role = auth.RoleMember
			}
			fmt.Fprintf(stdout, "%s  role=%s  comment=%q\n", e.PeerID, role, e.Comment)
		}
		return nil

	case "role":
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if fs.NArg() < 2 {
			return fmt.Errorf("usage: dignode keys role <peer-id> <admin|member>")
		}
		path, err := authorizedKeysPath(*configFlag)
		if err != nil {
			return err
		}
		if err := auth.SetPeerRole(path, fs.Arg(0), fs.Arg(1)); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s is now %s\n", fs.Arg(0), fs.Arg(1))
		return nil

	default:
		return fmt.Errorf("unknown keys subcommand %q", sub)
	}
}

// authorizedKeysPath resolves the authorized_keys path from the same
// config file run/whoami load from, so the admin CLI always edits the
// file the running daemon actually enforces against.
func authorizedKeysPath(configFlag string) (string, error) {
	cfgFile, err := config.FindConfigFile(configFlag)
	if err != nil {
		return "", fmt.Errorf("config error: %w", err)
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return "", fmt.Errorf("config error: %w", err)
	}
	config.ResolveConfigPaths(cfg, filepath.Dir(cfgFile))
	if cfg.Security.AuthorizedKeysFile == "" {
		return "", fmt.Errorf("security.authorized_keys_file is not set in %s", cfgFile)
	}
	return cfg.Security.AuthorizedKeysFile, nil
}
