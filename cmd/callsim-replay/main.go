// Command callsim-replay feeds a JSONL capture of realtime events through the
// transcript engine and prints the resulting conversation.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/vango-go/callsim/pkg/core/reconcile"
	"github.com/vango-go/callsim/pkg/core/scenario"
	"github.com/vango-go/callsim/pkg/core/transcript"
)

const maxEventBytes = 4 << 20

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFDF5")).Background(lipgloss.Color("#25A065")).Padding(0, 1)
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	crumbStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).PaddingLeft(4)
	flagStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type options struct {
	events   string
	agents   []string
	scenario string
	asJSON   bool
	verbose  bool
}

// result is one replayed capture.
type result struct {
	Scenario    string            `json:"scenario"`
	ActiveAgent string            `json:"active_agent"`
	Items       []transcript.Item `json:"items"`
	Spoken      []string          `json:"spoken"`
	Events      int               `json:"events"`
	Dropped     int               `json:"dropped"`
}

// nopSynth accepts every request and returns no audio.
type nopSynth struct{}

func (nopSynth) Synthesize(context.Context, string, string) ([]byte, error) { return nil, nil }

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("callsim-replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	var agents string
	fs.StringVar(&opts.events, "events", "", "JSONL capture of realtime events (- for stdin)")
	fs.StringVar(&agents, "agents", "", "comma-separated agent roster, first is active")
	fs.StringVar(&opts.scenario, "scenario", "", "scenario key used to resolve voices and the default agent")
	fs.BoolVar(&opts.asJSON, "json", false, "print the transcript as JSON")
	fs.BoolVar(&opts.verbose, "v", false, "log dropped events")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if strings.TrimSpace(opts.events) == "" {
		return options{}, errors.New("-events is required")
	}
	for _, a := range strings.Split(agents, ",") {
		if a = strings.TrimSpace(a); a != "" {
			opts.agents = append(opts.agents, a)
		}
	}
	return opts, nil
}

func replay(ctx context.Context, r io.Reader, opts options, catalog *scenario.Catalog, logger *slog.Logger) (result, error) {
	sc := catalog.Lookup(opts.scenario)
	roster := opts.agents
	if len(roster) == 0 && sc.AgentName != "" {
		roster = []string{sc.AgentName}
	}

	engine := reconcile.New(reconcile.Deps{
		Logger:      logger,
		Synthesizer: nopSynth{},
		Voice:       func(agent string) string { return catalog.VoiceFor(sc.Key, agent) },
		Roster:      roster,
	})
	defer engine.Close()
	engine.Begin()

	res := result{Scenario: sc.Key}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxEventBytes)
	line := 0
	for scanner.Scan() {
		line++
		data := []byte(strings.TrimSpace(scanner.Text()))
		if len(data) == 0 {
			continue
		}
		res.Events++
		if err := engine.HandleEvent(data); err != nil {
			res.Dropped++
			logger.Debug("event skipped", "line", line, "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return result{}, fmt.Errorf("read events line %d: %w", line+1, err)
	}

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	engine.Drain(drainCtx)

	res.ActiveAgent = engine.ActiveAgent()
	res.Items = engine.Snapshot()
	for _, it := range res.Items {
		if engine.Dispatched(it.ID) {
			res.Spoken = append(res.Spoken, it.ID)
		}
	}
	return res, nil
}

func render(res result) string {
	spoken := make(map[string]struct{}, len(res.Spoken))
	for _, id := range res.Spoken {
		spoken[id] = struct{}{}
	}

	var sb strings.Builder
	sb.WriteString(headerStyle.Render(fmt.Sprintf("scenario %s · agent %s", res.Scenario, res.ActiveAgent)))
	sb.WriteString("\n")
	for _, it := range res.Items {
		if it.Hidden {
			continue
		}
		switch it.Kind {
		case transcript.KindBreadcrumb:
			sb.WriteString(crumbStyle.Render("· " + it.Content))
		default:
			label := userStyle.Render("operator:")
			if it.Role == transcript.RoleAssistant {
				label = assistantStyle.Render("caller:")
			}
			sb.WriteString(label + " " + it.Content)
			if it.Status != transcript.StatusDone {
				sb.WriteString(" " + dimStyle.Render("("+strings.ToLower(string(it.Status))+")"))
			}
			if _, ok := spoken[it.ID]; ok {
				sb.WriteString(" " + dimStyle.Render("[spoken]"))
			}
			if g := it.Guardrail; g != nil && g.Status == transcript.StatusDone && !g.Passed() {
				sb.WriteString(" " + flagStyle.Render(string(g.Category)))
			}
		}
		sb.WriteString("\n")
	}
	sb.WriteString(dimStyle.Render(fmt.Sprintf("%d events, %d dropped", res.Events, res.Dropped)))
	sb.WriteString("\n")
	return sb.String()
}

func runMain(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "callsim-replay: %v\n", err)
		return 2
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	in := stdin
	if opts.events != "-" {
		f, err := os.Open(opts.events)
		if err != nil {
			fmt.Fprintf(stderr, "callsim-replay: %v\n", err)
			return 1
		}
		defer f.Close()
		in = f
	}

	catalog, err := scenario.LoadFile(os.Getenv("CALLSIM_SCENARIO_FILE"))
	if err != nil {
		fmt.Fprintf(stderr, "callsim-replay: %v\n", err)
		return 1
	}

	res, err := replay(ctx, in, opts, catalog, logger)
	if err != nil {
		fmt.Fprintf(stderr, "callsim-replay: %v\n", err)
		return 1
	}

	if opts.asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			fmt.Fprintf(stderr, "callsim-replay: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprint(stdout, render(res))
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
