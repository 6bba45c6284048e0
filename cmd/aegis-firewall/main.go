// Command aegis-firewall runs the economic firewall proxy: an RPC
// Gateway in front of an upstream JSON-RPC node that intercepts
// value-bearing transactions, checks them against an on-chain policy
// registry and an off-chain daily-spend ledger, and periodically
// anchors accepted spend back on-chain.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable so tests can substitute a fake.
var startServer = runServer

// Run is the CLI entrypoint, kept separate from main so it is testable
// without process exit semantics.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		startServer()
		return 0
	}

	switch args[1] {
	case "server", "serve":
		startServer()
		return 0
	case "health":
		return runHealthCmd(stdout, stderr)
	case "anchor-once":
		return runAnchorOnceCmd(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "aegis-firewall: economic firewall proxy")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  aegis-firewall <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  server, serve   Run the gateway + admin + anchor worker (default)")
	fmt.Fprintln(w, "  anchor-once     Run a single anchor iteration against AEGIS_ANCHOR_SECRET and exit")
	fmt.Fprintln(w, "  health          Check the running server's /healthz endpoint")
	fmt.Fprintln(w, "  help            Show this help")
	fmt.Fprintln(w, "")
}
