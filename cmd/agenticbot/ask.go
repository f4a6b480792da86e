package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jaig1/agenticbot/internal/orchestrator"
	"github.com/jaig1/agenticbot/internal/session"
)

var (
	askSession string
	askTrail   bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask questions interactively in the terminal",
	Long: `Start an interactive session. With a question argument it is submitted
first; clarification questions are answered at the prompt.

Commands at the prompt:
  /history   show this session's turns
  /stats     show request statistics
  /reset     clear this session
  /quit      exit`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg, appOptions{stderrLogs: true, level: "warn"})
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		id := askSession
		if id == "" {
			id = session.NewSessionID()
		}
		r := &repl{svc: a.service, sessionID: id, out: cmd.OutOrStdout(), showTrail: askTrail}
		if len(args) > 0 {
			if err := r.submit(ctx, strings.Join(args, " ")); err != nil {
				return err
			}
		}
		return r.run(ctx, cmd.InOrStdin())
	},
}

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "", "session id to continue (default: a new one)")
	askCmd.Flags().BoolVar(&askTrail, "trail", false, "print the decision trail after each turn")
}

var (
	headerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("51")).Bold(true).Padding(0, 1)
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	answerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	questionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	sqlStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)
)

// turnService is what the REPL needs from session.Service.
type turnService interface {
	SubmitTurn(ctx context.Context, sessionID, query string) (*orchestrator.TurnResult, error)
	History(ctx context.Context, sessionID string) ([]session.HistoryEntry, error)
	Reset(ctx context.Context, sessionID string) error
	Stats(ctx context.Context, sessionID string) (session.Stats, error)
}

type repl struct {
	svc       turnService
	sessionID string
	out       io.Writer
	showTrail bool
	pending   bool
}

func (r *repl) prompt() string {
	if r.pending {
		return questionStyle.Render("answer") + "> "
	}
	return labelStyle.Render("ask") + "> "
}

// run reads lines until EOF, /quit or ctx cancellation.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(r.out, headerStyle.Render("agenticbot")+" "+dimStyle.Render("session "+r.sessionID))
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, r.prompt())
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/history":
			r.printHistory(ctx)
			continue
		case "/stats":
			r.printStats(ctx)
			continue
		case "/reset":
			if err := r.svc.Reset(ctx, r.sessionID); err != nil {
				fmt.Fprintln(r.out, errorStyle.Render("reset failed: "+err.Error()))
				continue
			}
			r.pending = false
			fmt.Fprintln(r.out, dimStyle.Render("session cleared"))
			continue
		}
		if err := r.submit(ctx, line); err != nil {
			return err
		}
	}
}

func (r *repl) submit(ctx context.Context, query string) error {
	res, err := r.svc.SubmitTurn(ctx, r.sessionID, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprintln(r.out, errorStyle.Render("error: "+err.Error()))
		return nil
	}
	r.pending = res.Outcome == orchestrator.OutcomeNeedsClarification
	fmt.Fprintln(r.out, renderResult(res, r.showTrail))
	return nil
}

// renderResult formats one turn for the terminal.
func renderResult(res *orchestrator.TurnResult, showTrail bool) string {
	var b strings.Builder
	var trail []orchestrator.TrailEntry
	switch res.Outcome {
	case orchestrator.OutcomeAnswered:
		a := res.Answered
		b.WriteString(answerStyle.Render(a.Explanation))
		b.WriteString("\n")
		if a.Summary != "" {
			b.WriteString(labelStyle.Render("summary: ") + a.Summary + "\n")
		}
		if a.SQLOrPlanSummary != "" {
			b.WriteString(sqlStyle.Render(a.SQLOrPlanSummary) + "\n")
		}
		meta := fmt.Sprintf("%s · %d rows · %s", a.RowsSummary, a.Metadata.RowCount, a.Metadata.Elapsed)
		if a.Metadata.Truncated {
			meta += " · truncated"
		}
		b.WriteString(dimStyle.Render(meta))
		if a.Methodology != "" {
			b.WriteString("\n" + dimStyle.Render(a.Methodology))
		}
		trail = a.DecisionTrail
	case orchestrator.OutcomeNeedsClarification:
		c := res.Clarification
		b.WriteString(questionStyle.Render(c.Question))
		b.WriteString(" " + dimStyle.Render(fmt.Sprintf("(clarification %d)", c.Round)))
	case orchestrator.OutcomeFailed:
		f := res.Failed
		b.WriteString(errorStyle.Render(fmt.Sprintf("failed (%s): %s", f.ErrorKind, f.Message)))
		trail = f.DecisionTrail
	}
	if showTrail && len(trail) > 0 {
		b.WriteString("\n" + renderTrail(trail))
	}
	return b.String()
}

func renderTrail(trail []orchestrator.TrailEntry) string {
	var b strings.Builder
	b.WriteString(labelStyle.Render("decision trail"))
	for _, e := range trail {
		line := fmt.Sprintf("\n  %2d %-22s → %s", e.Iteration, e.Action, e.ResultingState)
		if e.Forced {
			line += " (forced)"
		}
		if e.Error != nil {
			line += " " + errorStyle.Render(string(e.Error.Kind)+": "+e.Error.Message)
		}
		b.WriteString(dimStyle.Render(line))
	}
	return b.String()
}

func (r *repl) printHistory(ctx context.Context) {
	hist, err := r.svc.History(ctx, r.sessionID)
	if err != nil {
		fmt.Fprintln(r.out, errorStyle.Render("history failed: "+err.Error()))
		return
	}
	if len(hist) == 0 {
		fmt.Fprintln(r.out, dimStyle.Render("no turns yet"))
		return
	}
	for _, h := range hist {
		fmt.Fprintf(r.out, "%s %s %s\n",
			labelStyle.Render(fmt.Sprintf("#%d", h.Request)),
			h.Query,
			dimStyle.Render("→ "+string(h.Outcome)))
	}
}

func (r *repl) printStats(ctx context.Context) {
	st, err := r.svc.Stats(ctx, "")
	if err != nil {
		fmt.Fprintln(r.out, errorStyle.Render("stats failed: "+err.Error()))
		return
	}
	fmt.Fprintf(r.out, "%s %d  %s %d  %s %d  %s %d  %s %.0f%%\n",
		labelStyle.Render("total"), st.Total,
		labelStyle.Render("answered"), st.Successful,
		labelStyle.Render("failed"), st.Failed,
		labelStyle.Render("clarifications"), st.Clarifications,
		labelStyle.Render("success"), st.SuccessRate*100)
}
