// Command twire-log views and analyzes TradeWire diagnostic captures.
//
// Capture files are created by running twire-server or twire-client
// with the -log-file flag.
//
// Usage:
//
//	twire-log <command> [flags] <file.twlog>
//
// Commands:
//
//	view     View a capture in human-readable format
//	export   Export a capture as JSONL
//	filter   Filter a capture into a new file
//	stats    Show statistics about a capture
//
// Examples:
//
//	# View all events
//	twire-log view server.twlog
//
//	# View only heartbeat traffic
//	twire-log view -category control server.twlog
//
//	# Export router drops as JSONL
//	twire-log export -category drop server.twlog
//
//	# Keep one connection's events
//	twire-log filter -conn-id 7f3a... -o conn.twlog server.twlog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tradewire-protocol/tradewire-go/cmd/twire-log/commands"
)

const usage = `twire-log - TradeWire Capture Analyzer

Usage:
  twire-log <command> [flags] <file.twlog>

Commands:
  view     View a capture in human-readable format
  export   Export a capture as JSONL
  filter   Filter a capture into a new file
  stats    Show statistics about a capture

Use "twire-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func filterFlags(fs *flag.FlagSet) (connID, direction, layer, category, topic *string) {
	connID = fs.String("conn-id", "", "Filter by connection ID")
	direction = fs.String("direction", "", "Filter by direction (in, out)")
	layer = fs.String("layer", "", "Filter by layer (chunk, wire, connection, router)")
	category = fs.String("category", "", "Filter by category (message, control, state, drop, error)")
	topic = fs.String("topic", "", "Filter by topic")
	return
}

func buildFilter(connID, direction, layer, category, topic string) commands.Filter {
	filter, err := commands.BuildFilter(connID, direction, layer, category, topic)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return filter
}

func capturePath(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	connID, direction, layer, category, topic := filterFlags(fs)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	path := capturePath(fs)
	filter := buildFilter(*connID, *direction, *layer, *category, *topic)

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	output := fs.String("o", "", "Output file (default: stdout)")
	connID, direction, layer, category, topic := filterFlags(fs)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	path := capturePath(fs)
	filter := buildFilter(*connID, *direction, *layer, *category, *topic)

	if err := commands.RunExport(path, filter, *output); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	output := fs.String("o", "", "Output file (required)")
	connID, direction, layer, category, topic := filterFlags(fs)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	path := capturePath(fs)
	filter := buildFilter(*connID, *direction, *layer, *category, *topic)

	if err := commands.RunFilter(path, filter, *output); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	path := capturePath(fs)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
