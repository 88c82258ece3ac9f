package pipeline

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adminmcp/agent/internal/policy"
)

// writtenMarkerRe extracts the sentinel token from a gated command as
// it was written to the terminal. The written form carries the literal
// %d verb; only real output carries digits.
var writtenMarkerRe = regexp.MustCompile(`__ADMINMCP_RC_([0-9a-f]{32})_%d`)

// fakeTerminal is a scripted stand-in for the PTY session. Writes are
// recorded; output is produced either by the respond callback or by
// pushing chunks from the test.
type fakeTerminal struct {
	mu      sync.Mutex
	alive   bool
	writes  []string
	pending []byte
	notify  chan struct{}

	respond func(written string) string

	// busy tracks the write-to-completion window of a gated command so
	// tests can detect overlapping terminal use.
	busy    bool
	overlap bool
}

func newFakeTerminal() *fakeTerminal {
	return &fakeTerminal{alive: true, notify: make(chan struct{}, 1)}
}

func (f *fakeTerminal) Write(p []byte) (int, error) {
	f.mu.Lock()
	written := string(p)
	f.writes = append(f.writes, written)
	if writtenMarkerRe.MatchString(written) {
		if f.busy {
			f.overlap = true
		}
		f.busy = true
	}
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		if out := respond(written); out != "" {
			f.push(out)
		}
	}
	return len(p), nil
}

func (f *fakeTerminal) push(data string) {
	f.mu.Lock()
	f.pending = append(f.pending, data...)
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *fakeTerminal) ReadAvailable(ctx context.Context) ([]byte, error) {
	for {
		f.mu.Lock()
		if len(f.pending) > 0 {
			out := f.pending
			f.pending = nil
			if markerRe.Match(out) {
				f.busy = false
			}
			f.mu.Unlock()
			return out, nil
		}
		f.mu.Unlock()

		select {
		case <-f.notify:
		case <-ctx.Done():
			return nil, nil
		}
	}
}

func (f *fakeTerminal) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeTerminal) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

// gatedResponse scripts a shell that echoes the input line, prints the
// given output, and reports the given exit code through the sentinel.
func gatedResponse(exitCode int, output string) func(string) string {
	return func(written string) string {
		m := writtenMarkerRe.FindStringSubmatch(written)
		if m == nil {
			return ""
		}
		echo := strings.TrimSuffix(written, "\n") + "\r\n"
		body := ""
		if output != "" {
			body = output + "\r\n"
		}
		return echo + body + "\r\n__ADMINMCP_RC_" + m[1] + "_" + strconv.Itoa(exitCode) + "\r\n"
	}
}

func newTestEngine(t *testing.T, rules *policy.Rules) *policy.Engine {
	t.Helper()
	engine, err := policy.NewEngine(rules)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func newTestPipeline(t *testing.T, term Terminal, rules *policy.Rules, confirm ConfirmFunc) *Pipeline {
	t.Helper()
	return New(Options{
		Terminal:       term,
		Engine:         newTestEngine(t, rules),
		Confirm:        confirm,
		DefaultTimeout: 2 * time.Second,
	})
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"autonomous": ModeAutonomous,
		"logonly":    ModeAutonomous,
		"review":     ModeReview,
		"watch":      ModeReview,
		"tutor":      ModeTutor,
		"dialog":     ModeTutor,
		"  Tutor ":   ModeTutor,
	}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil {
			t.Errorf("ParseMode(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseMode(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseMode("yolo"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestExecute_AutonomousCompletes(t *testing.T) {
	term := newFakeTerminal()
	term.respond = gatedResponse(0, "hello")
	p := newTestPipeline(t, term, nil, nil)

	res := p.Execute(context.Background(), Request{Command: "echo hello", Mode: ModeAutonomous})
	if res.Status != StatusCompleted {
		t.Fatalf("status = %q (%s), want completed", res.Status, res.Reason)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("exit code = %v, want 0", res.ExitCode)
	}
	if res.Stdout != "hello" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "hello")
	}
	if res.ID == "" {
		t.Error("result ID was not assigned")
	}
}

func TestExecute_AutonomousNonZeroExit(t *testing.T) {
	term := newFakeTerminal()
	term.respond = gatedResponse(3, "")
	p := newTestPipeline(t, term, nil, nil)

	res := p.Execute(context.Background(), Request{Command: "false", Mode: ModeAutonomous})
	if res.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", res.Status)
	}
	if res.ExitCode == nil || *res.ExitCode != 3 {
		t.Fatalf("exit code = %v, want 3", res.ExitCode)
	}
}

func TestExecute_PolicyDenyNeverTouchesTerminal(t *testing.T) {
	for _, mode := range []Mode{ModeAutonomous, ModeReview, ModeTutor} {
		term := newFakeTerminal()
		p := newTestPipeline(t, term, nil, nil)

		res := p.Execute(context.Background(), Request{Command: "rm -rf /", Mode: mode})
		if res.Status != StatusDenied {
			t.Errorf("mode %s: status = %q, want denied", mode, res.Status)
		}
		if res.ExitCode != nil {
			t.Errorf("mode %s: denied result carries an exit code", mode)
		}
		if term.writeCount() != 0 {
			t.Errorf("mode %s: denied command reached the terminal: %q", mode, term.writes)
		}
	}
}

func TestExecute_TimeoutLeavesSessionAlive(t *testing.T) {
	term := newFakeTerminal() // never produces the sentinel
	p := newTestPipeline(t, term, nil, nil)

	res := p.Execute(context.Background(), Request{
		Command: "sleep 600",
		Mode:    ModeAutonomous,
		Timeout: 50 * time.Millisecond,
	})
	if res.Status != StatusTimedOut {
		t.Fatalf("status = %q, want timed_out", res.Status)
	}
	if res.ExitCode != nil {
		t.Error("timed out result carries an exit code")
	}
	if !term.Alive() {
		t.Error("timeout must not kill the session")
	}
	if term.writeCount() != 1 {
		t.Errorf("write count = %d, want 1", term.writeCount())
	}
}

func TestExecute_StaleSentinelFromEarlierRequestIgnored(t *testing.T) {
	term := newFakeTerminal()
	stale := strings.Repeat("ab", 16)
	term.respond = func(written string) string {
		m := writtenMarkerRe.FindStringSubmatch(written)
		if m == nil {
			return ""
		}
		// A sentinel from a previous timed-out command arrives first.
		return "__ADMINMCP_RC_" + stale + "_7\r\n" +
			"later\r\n__ADMINMCP_RC_" + m[1] + "_0\r\n"
	}
	p := newTestPipeline(t, term, nil, nil)

	res := p.Execute(context.Background(), Request{Command: "echo later", Mode: ModeAutonomous})
	if res.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", res.Status)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("exit code = %v, want 0 from the matching sentinel", res.ExitCode)
	}
}

func TestExecute_TutorDeniedByOperator(t *testing.T) {
	term := newFakeTerminal()
	confirm := func(ctx context.Context, req Request) (Confirmation, error) {
		return Confirmation{Decision: DecisionDeny}, nil
	}
	p := newTestPipeline(t, term, nil, confirm)

	res := p.Execute(context.Background(), Request{Command: "ls", Mode: ModeTutor})
	if res.Status != StatusDenied {
		t.Fatalf("status = %q, want denied", res.Status)
	}
	if term.writeCount() != 0 {
		t.Error("denied command reached the terminal")
	}
}

func TestExecute_TutorApproveRuns(t *testing.T) {
	term := newFakeTerminal()
	term.respond = gatedResponse(0, "ok")
	confirm := func(ctx context.Context, req Request) (Confirmation, error) {
		if req.Command != "echo ok" {
			t.Errorf("confirmation saw command %q", req.Command)
		}
		return Confirmation{Decision: DecisionApprove}, nil
	}
	p := newTestPipeline(t, term, nil, confirm)

	res := p.Execute(context.Background(), Request{Command: "echo ok", Mode: ModeTutor})
	if res.Status != StatusCompleted {
		t.Fatalf("status = %q (%s), want completed", res.Status, res.Reason)
	}
	if res.Stdout != "ok" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "ok")
	}
}

func TestExecute_TutorEditRunsEditedCommand(t *testing.T) {
	term := newFakeTerminal()
	term.respond = gatedResponse(0, "swapped")
	confirm := func(ctx context.Context, req Request) (Confirmation, error) {
		return Confirmation{Decision: DecisionEdit, EditedCommand: "echo swapped"}, nil
	}
	p := newTestPipeline(t, term, nil, confirm)

	res := p.Execute(context.Background(), Request{Command: "echo original", Mode: ModeTutor})
	if res.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", res.Status)
	}
	if term.writeCount() != 1 || !strings.HasPrefix(term.writes[0], "echo swapped;") {
		t.Errorf("terminal saw %q, want the edited command", term.writes)
	}
}

func TestExecute_TutorEditRechecksRules(t *testing.T) {
	term := newFakeTerminal()
	confirm := func(ctx context.Context, req Request) (Confirmation, error) {
		return Confirmation{Decision: DecisionEdit, EditedCommand: "rm -rf /"}, nil
	}
	p := newTestPipeline(t, term, nil, confirm)

	res := p.Execute(context.Background(), Request{Command: "ls", Mode: ModeTutor})
	if res.Status != StatusDenied {
		t.Fatalf("status = %q, want denied", res.Status)
	}
	if term.writeCount() != 0 {
		t.Error("edited deny-listed command reached the terminal")
	}
}

func TestExecute_TutorAllowRuleSkipsConfirmation(t *testing.T) {
	term := newFakeTerminal()
	term.respond = gatedResponse(0, "trusted")
	asked := false
	confirm := func(ctx context.Context, req Request) (Confirmation, error) {
		asked = true
		return Confirmation{Decision: DecisionDeny}, nil
	}
	rules := &policy.Rules{Allow: []string{`^echo `}}
	p := newTestPipeline(t, term, rules, confirm)

	res := p.Execute(context.Background(), Request{Command: "echo trusted", Mode: ModeTutor})
	if res.Status != StatusCompleted {
		t.Fatalf("status = %q (%s), want completed", res.Status, res.Reason)
	}
	if asked {
		t.Error("allow-listed command still asked for confirmation")
	}
}

func TestExecute_TutorWithoutSurfaceDenies(t *testing.T) {
	term := newFakeTerminal()
	p := newTestPipeline(t, term, nil, nil)

	res := p.Execute(context.Background(), Request{Command: "ls", Mode: ModeTutor})
	if res.Status != StatusDenied {
		t.Fatalf("status = %q, want denied", res.Status)
	}
}

func TestExecute_TutorSurfaceErrorDenies(t *testing.T) {
	term := newFakeTerminal()
	confirm := func(ctx context.Context, req Request) (Confirmation, error) {
		return Confirmation{}, errors.New("surface closed")
	}
	p := newTestPipeline(t, term, nil, confirm)

	res := p.Execute(context.Background(), Request{Command: "ls", Mode: ModeTutor})
	if res.Status != StatusDenied {
		t.Fatalf("status = %q, want denied", res.Status)
	}
}

func TestExecute_ReviewCompletesOnPromptReturn(t *testing.T) {
	term := newFakeTerminal()
	term.respond = func(written string) string {
		// PTY echo of the injected text, no newline yet.
		return written
	}
	p := newTestPipeline(t, term, nil, nil)

	done := make(chan Result, 1)
	go func() {
		done <- p.Execute(context.Background(), Request{Command: "ls -l", Mode: ModeReview})
	}()

	// The operator presses enter and the command produces output.
	time.Sleep(50 * time.Millisecond)
	term.push("\r\ntotal 0\r\nfile.txt\r\n$ ")

	res := <-done
	if res.Status != StatusCompleted {
		t.Fatalf("status = %q (%s), want completed", res.Status, res.Reason)
	}
	if res.ExitCode != nil {
		t.Error("review result must not carry an exit code")
	}
	if res.Stdout != "total 0\nfile.txt" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if got := term.writes[0]; got != "ls -l" {
		t.Errorf("injected %q, want the bare command without a newline", got)
	}
}

func TestExecute_ReviewTimesOutWithoutConfirmation(t *testing.T) {
	term := newFakeTerminal()
	term.respond = func(written string) string { return written } // echo only
	p := newTestPipeline(t, term, nil, nil)

	res := p.Execute(context.Background(), Request{
		Command: "ls",
		Mode:    ModeReview,
		Timeout: 80 * time.Millisecond,
	})
	if res.Status != StatusTimedOut {
		t.Fatalf("status = %q, want timed_out", res.Status)
	}
	if !term.Alive() {
		t.Error("review timeout must not kill the session")
	}
}

func TestExecute_SerializesTerminalAccess(t *testing.T) {
	term := newFakeTerminal()
	term.respond = func(written string) string {
		m := writtenMarkerRe.FindStringSubmatch(written)
		if m == nil {
			return ""
		}
		// Delay the sentinel so the write-to-completion window is wide
		// enough for a second request to collide if the lock leaked.
		token := m[1]
		go func() {
			time.Sleep(20 * time.Millisecond)
			term.push("out\r\n__ADMINMCP_RC_" + token + "_0\r\n")
		}()
		return ""
	}
	p := newTestPipeline(t, term, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := p.Execute(context.Background(), Request{Command: "echo out", Mode: ModeAutonomous})
			if res.Status != StatusCompleted {
				t.Errorf("status = %q (%s), want completed", res.Status, res.Reason)
			}
		}()
	}
	wg.Wait()

	if term.overlap {
		t.Fatal("two requests held the terminal at the same time")
	}
	if term.writeCount() != 4 {
		t.Errorf("write count = %d, want 4", term.writeCount())
	}
}

func TestExecute_DeadSessionIsError(t *testing.T) {
	term := newFakeTerminal()
	term.alive = false
	p := newTestPipeline(t, term, nil, nil)

	res := p.Execute(context.Background(), Request{Command: "ls", Mode: ModeAutonomous})
	if res.Status != StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
	if res.Reason == "" {
		t.Error("error result carries no reason")
	}
}

func TestExecute_EmptyCommandIsError(t *testing.T) {
	term := newFakeTerminal()
	p := newTestPipeline(t, term, nil, nil)

	res := p.Execute(context.Background(), Request{Command: "   ", Mode: ModeAutonomous})
	if res.Status != StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
}

func TestCleanOutput(t *testing.T) {
	token := strings.Repeat("0a", 16)
	raw := "echo hi; printf '\\n__ADMINMCP_RC_" + token + "_%d\\n' $?\r\nhi\r\n"
	if got := cleanOutput(raw, token); got != "hi" {
		t.Errorf("cleanOutput = %q, want %q", got, "hi")
	}
}

func TestStripPromptTail(t *testing.T) {
	cases := map[string]string{
		"total 0\nfile\n$ ":  "total 0\nfile",
		"total 0\nfile\nsh%": "total 0\nfile",
		"$ ":                 "",
		"plain output":       "plain output",
	}
	for in, want := range cases {
		if got := stripPromptTail(in); got != want {
			t.Errorf("stripPromptTail(%q) = %q, want %q", in, got, want)
		}
	}
}
