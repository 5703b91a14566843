// Package interactive provides the interactive command line of cirrus-probe.
package interactive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/cirrusvault/cirrus-go/cmd/cirrus-probe/probe"
	"github.com/cirrusvault/cirrus-go/pkg/backend"
)

// Shell runs probe commands typed at a prompt.
type Shell struct {
	prober  *probe.Prober
	rl      *readline.Instance
	timeout time.Duration
}

// New creates a shell reading from the terminal. timeout bounds each command.
func New(p *probe.Prober, timeout time.Duration) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "cirrus> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("help"),
			readline.PcItem("connect"),
			readline.PcItem("ping"),
			readline.PcItem("burst"),
			readline.PcItem("status"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{prober: p, rl: rl, timeout: timeout}, nil
}

// Stdout returns a writer that coordinates with the prompt. Use it for
// log output.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Run reads commands until quit, EOF or ctx ends.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	out := s.rl.Stdout()
	printHelp(out)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(out, "Exiting...")
			cancel()
			return
		}

		if quit := Execute(ctx, s.prober, line, out, s.timeout); quit {
			fmt.Fprintln(out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line against p and reports whether the shell
// should exit.
func Execute(ctx context.Context, p *probe.Prober, line string, w io.Writer, timeout time.Duration) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	switch cmd {
	case "help", "?":
		printHelp(w)
	case "connect", "c":
		cmdConnect(ctx, p, w)
	case "ping", "p":
		cmdPing(ctx, p, args, w)
	case "burst", "b":
		cmdBurst(ctx, p, args, w)
	case "status", "s":
		cmdStatus(p, w)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(w, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, `
Cirrus Probe Commands:
  connect                    - Open a new kept connection
  ping [message]             - Ping over the kept connection
  burst <count> [parallel]   - Send count pings, parallel at a time
  status                     - Show connection and pool state
  quit                       - Exit`)
}

func cmdConnect(ctx context.Context, p *probe.Prober, w io.Writer) {
	tr, err := p.Connect(ctx)
	if err != nil {
		printError(w, err)
		return
	}
	fmt.Fprintf(w, "Connected: %s (%s)\n", tr.ID(), tr.Handshake().Describe())
}

func cmdPing(ctx context.Context, p *probe.Prober, args []string, w io.Writer) {
	msg := "ping"
	if len(args) > 0 {
		msg = strings.Join(args, " ")
	}
	res, err := p.Ping(ctx, msg)
	if err != nil {
		printError(w, err)
		return
	}
	fmt.Fprintf(w, "%q from %s in %s\n", res.Reply, shortID(res.ConnID), res.RTT.Round(time.Microsecond))
}

func cmdBurst(ctx context.Context, p *probe.Prober, args []string, w io.Writer) {
	if len(args) < 1 {
		fmt.Fprintln(w, "Usage: burst <count> [parallel]")
		return
	}
	count, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(w, "Invalid count: %s\n", args[0])
		return
	}
	parallel := 1
	if len(args) > 1 {
		if parallel, err = strconv.Atoi(args[1]); err != nil {
			fmt.Fprintf(w, "Invalid parallelism: %s\n", args[1])
			return
		}
	}

	report, err := p.Burst(ctx, count, parallel)
	if err != nil {
		printError(w, err)
		return
	}
	PrintReport(w, report)
}

func cmdStatus(p *probe.Prober, w io.Writer) {
	fmt.Fprintf(w, "Target: %s\n", p.Describe())
	if tr := p.Conn(); tr != nil {
		fmt.Fprintf(w, "Connection: %s %s\n", shortID(tr.ID()), tr.State())
		if ka := tr.KeepAliveStats(); ka.CurrentSeq > 0 {
			fmt.Fprintf(w, "Keep-alive: seq %d, missed %d\n", ka.CurrentSeq, ka.MissedPongs)
		}
	} else {
		fmt.Fprintln(w, "Connection: none")
	}
	if stats, ok := p.PoolStats(); ok {
		fmt.Fprintf(w, "Pool: idle=%d in_use=%d created=%d discarded=%d\n", stats.Idle, stats.InUse, stats.Created, stats.Discarded)
	}
}

// PrintReport writes a burst summary.
func PrintReport(w io.Writer, r probe.Report) {
	fmt.Fprintf(w, "%d pings, %d failed in %s\n", r.Count, r.Failed, r.Duration.Round(time.Millisecond))
	if ok := r.Count - r.Failed; ok > 0 {
		fmt.Fprintf(w, "rtt min/avg/max = %s/%s/%s\n",
			r.Min.Round(time.Microsecond), r.Mean().Round(time.Microsecond), r.Max.Round(time.Microsecond))
	}
	if len(r.Errors) == 0 {
		return
	}
	kinds := make([]backend.Kind, 0, len(r.Errors))
	for k := range r.Errors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		fmt.Fprintf(w, "  %s: %d\n", k, r.Errors[k])
	}
}

func printError(w io.Writer, err error) {
	if kind := backend.KindOf(err); kind != backend.KindUnknown {
		fmt.Fprintf(w, "Error (%s): %v\n", kind, err)
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
