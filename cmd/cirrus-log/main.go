// Command cirrus-log inspects protocol captures written by cirrus-probe
// and cirrus-mockbackend with -protocol-log.
//
// Usage:
//
//	cirrus-log <command> [flags] <file.clog>
//
// Commands:
//
//	view     print events in human-readable form
//	export   convert to JSONL or CSV
//	filter   copy matching events to a new capture
//	stats    summarize a capture
//
// Examples:
//
//	cirrus-log view -layer handshake probe.clog
//	cirrus-log export -format csv -o probe.csv probe.clog
//	cirrus-log filter -device-id alice@laptop -o alice.clog probe.clog
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cirrusvault/cirrus-go/cmd/cirrus-log/commands"
)

type command struct {
	name, summary string
	run           func(fs *flag.FlagSet, args []string) error
}

var cmds = []command{
	{"view", "print events in human-readable form", runView},
	{"export", "convert to JSONL or CSV", runExport},
	{"filter", "copy matching events to a new capture", runFilter},
	{"stats", "summarize a capture", runStats},
}

var errUsage = errors.New("usage")

func usage() string {
	var b strings.Builder
	b.WriteString("cirrus-log - inspect cirrus protocol captures\n\nUsage:\n  cirrus-log <command> [flags] <file.clog>\n\nCommands:\n")
	for _, c := range cmds {
		fmt.Fprintf(&b, "  %-8s %s\n", c.name, c.summary)
	}
	b.WriteString("\nRun \"cirrus-log <command> -help\" for the flags of a command.\n")
	return b.String()
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage())
		os.Exit(1)
	}

	name := os.Args[1]
	switch name {
	case "-h", "-help", "--help", "help":
		fmt.Print(usage())
		return
	}

	for _, c := range cmds {
		if c.name != name {
			continue
		}
		fs := flag.NewFlagSet(c.name, flag.ExitOnError)
		fs.Usage = func() {
			fmt.Fprintf(os.Stderr, "cirrus-log %s - %s\n\nUsage:\n  cirrus-log %s [flags] <file.clog>\n\nFlags:\n", c.name, c.summary, c.name)
			fs.PrintDefaults()
		}
		err := c.run(fs, os.Args[2:])
		switch {
		case errors.Is(err, errUsage):
			fs.Usage()
			os.Exit(2)
		case err != nil:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", name, usage())
	os.Exit(1)
}

// parseArgs parses fs and returns the capture path.
func parseArgs(fs *flag.FlagSet, args []string) (string, error) {
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one capture file expected")
		return "", errUsage
	}
	return fs.Arg(0), nil
}

func selectionFlags(fs *flag.FlagSet) *commands.FilterOptions {
	var o commands.FilterOptions
	fs.StringVar(&o.ConnID, "conn-id", "", "only this connection ID")
	fs.StringVar(&o.DeviceID, "device-id", "", "only this device ID")
	fs.StringVar(&o.OrganizationID, "org-id", "", "only this organization ID")
	fs.StringVar(&o.TimeStart, "time-start", "", "only events at or after this RFC 3339 time")
	fs.StringVar(&o.TimeEnd, "time-end", "", "only events before this RFC 3339 time")
	fs.StringVar(&o.Layer, "layer", "", "only this layer (transport, handshake, application)")
	fs.StringVar(&o.Direction, "direction", "", "only this direction (in, out)")
	fs.StringVar(&o.Category, "category", "", "only this category (message, control, state, error)")
	return &o
}

func runView(fs *flag.FlagSet, args []string) error {
	sel := selectionFlags(fs)
	path, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	filter, err := sel.Build()
	if err != nil {
		return err
	}
	return commands.RunView(path, filter, os.Stdout)
}

func runExport(fs *flag.FlagSet, args []string) error {
	format := fs.String("format", "jsonl", "jsonl or csv")
	output := fs.String("o", "", "output file (default stdout)")
	path, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	return commands.RunExport(path, *format, *output)
}

func runFilter(fs *flag.FlagSet, args []string) error {
	output := fs.String("o", "", "output capture (required)")
	sel := selectionFlags(fs)
	path, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: -o is required")
		return errUsage
	}
	n, err := commands.RunFilter(path, *output, *sel)
	if err != nil {
		return err
	}
	fmt.Printf("Filtered %d events to %s\n", n, *output)
	return nil
}

func runStats(fs *flag.FlagSet, args []string) error {
	path, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	return commands.RunStats(path, os.Stdout)
}
