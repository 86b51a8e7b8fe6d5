package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X main.version=0.1.0 -X main.commit=$(git rev-parse --short HEAD)" -o dignode ./cmd/dignode
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if len(os.Args) < 2 {
		printUsage()
		osExit(1)
	}

	switch os.Args[1] {
	case "run":
		runServe(os.Args[2:])
	case "whoami":
		runWhoami(os.Args[2:])
	case "keys":
		runKeys(os.Args[2:])
	case "config":
		runConfig(os.Args[2:])
	case "version", "--version":
		printVersion()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		osExit(1)
	}
}

func printVersion() {
	fmt.Printf("dignode %s (%s)\n", version, commit)
	fmt.Printf("Go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func printUsage() {
	fmt.Println("Usage: dignode <command> [options]")
	fmt.Println()
	fmt.Println("  run [--config path]   Start the connection-establishment engine")
	fmt.Println("  whoami [--config path] Show this node's peer ID")
	fmt.Println("  keys <add|remove|list|role> [--config path] Manage the authorized_keys allowlist")
	fmt.Println("  config <apply|confirm|rollback|snapshot|restore|list> Manage the config file safely")
	fmt.Println("  version               Show version information")
	fmt.Println()
	fmt.Println("Without --config, dignode searches: ./dignode.yaml, ~/.config/dignode/config.yaml, /etc/dignode/config.yaml")
}

