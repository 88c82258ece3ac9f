package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adminmcp/agent/internal/logging"
	"github.com/adminmcp/agent/internal/policy"
)

const (
	// DefaultTimeout bounds a request that did not carry its own.
	DefaultTimeout = 30 * time.Second

	// markerPrefix tags the sentinel line appended after every gated
	// command so the exit code can be recovered from the PTY stream.
	markerPrefix = "__ADMINMCP_RC_"

	// drainWindow is how long stale pre-request output is collected
	// before a command is written to the terminal.
	drainWindow = 25 * time.Millisecond
)

// markerRe matches a completed sentinel line. The echoed input line
// contains the literal %d format verb, never digits, so only the
// printf output satisfies this.
var markerRe = regexp.MustCompile(markerPrefix + `([0-9a-f]{32})_(\d+)`)

// promptTailRe recognizes a shell prompt sitting at the end of the
// accumulated output, which review mode takes as command completion.
var promptTailRe = regexp.MustCompile(`[$#%>] ?$`)

// Pipeline serializes command admission against a single terminal
// session. At most one request owns the terminal at a time; the rest
// queue on the internal lock in arrival order.
type Pipeline struct {
	term    Terminal
	engine  *policy.Engine
	confirm ConfirmFunc
	logger  *logging.Logger
	timeout time.Duration

	// mu is the write-then-await lock. Holding it is what makes
	// interleaved output from concurrent requests impossible.
	mu chan struct{}
}

// Options configures a Pipeline. Confirm may be nil, in which case
// tutor-mode requests without an allow-rule match are denied.
type Options struct {
	Terminal       Terminal
	Engine         *policy.Engine
	Confirm        ConfirmFunc
	Logger         *logging.Logger
	DefaultTimeout time.Duration
}

func New(opts Options) *Pipeline {
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.New()
	}
	mu := make(chan struct{}, 1)
	mu <- struct{}{}
	return &Pipeline{
		term:    opts.Terminal,
		engine:  opts.Engine,
		confirm: opts.Confirm,
		logger:  logger.WithComponent("pipeline"),
		timeout: timeout,
		mu:      mu,
	}
}

// Execute runs one request to completion and returns its Result.
// Infrastructure failures surface as StatusError results, never as a
// Go error; the caller always has something to report back.
func (p *Pipeline) Execute(ctx context.Context, req Request) Result {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Timeout <= 0 {
		req.Timeout = p.timeout
	}
	ctx, span := p.startSpan(ctx, req)
	p.logger.RequestReceived(req.ID, string(req.Mode), req.Timeout)

	start := time.Now()
	res := p.execute(ctx, req)
	res.ID = req.ID

	p.logger.RequestResolved(req.ID, string(res.Status), time.Since(start))
	endSpan(span, res)
	return res
}

func (p *Pipeline) execute(ctx context.Context, req Request) Result {
	if strings.TrimSpace(req.Command) == "" {
		return Result{Status: StatusError, Reason: "empty command"}
	}

	// Static rules run before anything touches the terminal, in every
	// mode. A denied command leaves no trace in the shell.
	decision := p.engine.Check(req.Command)
	if decision.Verdict == policy.VerdictDeny {
		p.logger.PolicyDeny(req.ID, decision.Pattern)
		return Result{Status: StatusDenied, Reason: decision.Reason}
	}

	switch req.Mode {
	case ModeAutonomous:
		return p.runGated(ctx, req, req.Command)
	case ModeReview:
		return p.runReview(ctx, req)
	case ModeTutor:
		return p.runTutor(ctx, req)
	default:
		return Result{Status: StatusError, Reason: fmt.Sprintf("unknown execution mode %q", req.Mode)}
	}
}

// runTutor blocks on the confirmation surface unless an allow rule
// pre-approves the command.
func (p *Pipeline) runTutor(ctx context.Context, req Request) Result {
	if pattern, ok := p.engine.Allowed(req.Command); ok {
		p.logger.Debug("allow rule matched, skipping confirmation", map[string]interface{}{
			"request_id": req.ID,
			"pattern":    pattern,
		})
		return p.runGated(ctx, req, req.Command)
	}
	if p.confirm == nil {
		return Result{Status: StatusDenied, Reason: "no confirmation surface available"}
	}

	conf, err := p.confirm(ctx, req)
	if err != nil {
		p.logger.ConfirmationResolved(req.ID, "deny")
		return Result{Status: StatusDenied, Reason: "confirmation unavailable: " + err.Error()}
	}
	p.logger.ConfirmationResolved(req.ID, string(conf.Decision))

	switch conf.Decision {
	case DecisionApprove:
		return p.runGated(ctx, req, req.Command)
	case DecisionDeny:
		return Result{Status: StatusDenied, Reason: "denied by operator"}
	case DecisionEdit:
		edited := strings.TrimSpace(conf.EditedCommand)
		if edited == "" {
			return Result{Status: StatusDenied, Reason: "edited command is empty"}
		}
		// The edited text never saw the rule check the original
		// passed; it gets its own before running.
		decision := p.engine.Check(edited)
		if decision.Verdict == policy.VerdictDeny {
			p.logger.PolicyDeny(req.ID, decision.Pattern)
			return Result{Status: StatusDenied, Reason: decision.Reason}
		}
		return p.runGated(ctx, req, edited)
	default:
		return Result{Status: StatusError, Reason: fmt.Sprintf("unknown confirmation decision %q", conf.Decision)}
	}
}

// runGated writes the command followed by a sentinel that echoes the
// shell's $? onto its own line, then reads until the sentinel appears.
func (p *Pipeline) runGated(ctx context.Context, req Request, command string) Result {
	res, release, ok := p.acquire(ctx)
	if !ok {
		return res
	}
	defer release()

	p.drainStale(ctx)

	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	line := fmt.Sprintf("%s; printf '\\n%s%s_%%d\\n' $?\n", command, markerPrefix, token)
	if _, err := p.term.Write([]byte(line)); err != nil {
		return Result{Status: StatusError, Reason: "terminal write: " + err.Error()}
	}

	waitCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	var buf strings.Builder
	for {
		chunk, err := p.term.ReadAvailable(waitCtx)
		if err != nil {
			return Result{Status: StatusError, Reason: "terminal read: " + err.Error()}
		}
		buf.Write(chunk)
		out := buf.String()
		for _, m := range markerRe.FindAllStringSubmatchIndex(out, -1) {
			// A marker left over from an earlier timed-out command
			// carries a different token and is skipped.
			if out[m[2]:m[3]] != token {
				continue
			}
			code, _ := strconv.Atoi(out[m[4]:m[5]])
			return Result{
				Stdout:   cleanOutput(out[:m[0]], token),
				ExitCode: &code,
				Status:   StatusCompleted,
			}
		}
		if len(chunk) == 0 {
			// ReadAvailable returned empty without error: the wait
			// deadline expired. The shell keeps running; only this
			// request gives up.
			if waitCtx.Err() != nil {
				return Result{Status: StatusTimedOut, Reason: "command did not complete within " + req.Timeout.String()}
			}
		}
	}
}

// runReview types the command into the terminal without a trailing
// newline and waits for a human at the live terminal to run it. There
// is no sentinel, so completion is a heuristic: output containing a
// newline has appeared after the injection and the stream has settled
// back onto a prompt.
func (p *Pipeline) runReview(ctx context.Context, req Request) Result {
	res, release, ok := p.acquire(ctx)
	if !ok {
		return res
	}
	defer release()

	p.drainStale(ctx)

	if _, err := p.term.Write([]byte(req.Command)); err != nil {
		return Result{Status: StatusError, Reason: "terminal write: " + err.Error()}
	}

	waitCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	var buf strings.Builder
	for {
		chunk, err := p.term.ReadAvailable(waitCtx)
		if err != nil {
			return Result{Status: StatusError, Reason: "terminal read: " + err.Error()}
		}
		buf.Write(chunk)
		out := normalize(buf.String())
		if i := strings.IndexByte(out, '\n'); i >= 0 && promptTailRe.MatchString(out) {
			// Everything before the first newline is the echo of the
			// injected text plus whatever the operator typed.
			body := strings.TrimPrefix(out[i+1:], "\n")
			return Result{
				Stdout: stripPromptTail(body),
				Status: StatusCompleted,
			}
		}
		if len(chunk) == 0 && waitCtx.Err() != nil {
			// Clear the injected text from the shell's input buffer
			// (kill-line) so the next command does not append to it.
			p.term.Write([]byte{0x15})
			return Result{Status: StatusTimedOut, Reason: "command was not confirmed within " + req.Timeout.String()}
		}
	}
}

// acquire takes the terminal lock or reports why it could not. The
// returned release must be called iff ok is true.
func (p *Pipeline) acquire(ctx context.Context) (Result, func(), bool) {
	select {
	case <-p.mu:
	case <-ctx.Done():
		return Result{Status: StatusTimedOut, Reason: "timed out waiting for the terminal"}, nil, false
	}
	if !p.term.Alive() {
		p.mu <- struct{}{}
		return Result{Status: StatusError, Reason: "terminal session is not running"}, nil, false
	}
	return Result{}, func() { p.mu <- struct{}{} }, true
}

// drainStale discards any output the shell produced between requests
// (background jobs, stray prompts) so it is not attributed to the
// command about to run.
func (p *Pipeline) drainStale(ctx context.Context) {
	drainCtx, cancel := context.WithTimeout(ctx, drainWindow)
	defer cancel()
	for {
		chunk, err := p.term.ReadAvailable(drainCtx)
		if err != nil || len(chunk) == 0 {
			return
		}
	}
}

// cleanOutput strips the PTY artifacts from captured output: carriage
// returns, the echoed input line (identified by the sentinel token it
// carries), and edge blank lines.
func cleanOutput(raw, token string) string {
	lines := strings.Split(normalize(raw), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.Contains(line, markerPrefix+token) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Trim(strings.Join(kept, "\n"), "\n")
}

func normalize(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// stripPromptTail removes a trailing prompt line left after review
// completion.
func stripPromptTail(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		if promptTailRe.MatchString(s[i+1:]) {
			return strings.TrimRight(s[:i], "\n")
		}
	} else if promptTailRe.MatchString(s) {
		return ""
	}
	return s
}
