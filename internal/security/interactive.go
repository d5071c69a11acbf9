package security

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"aide/internal/events"
)

// InteractiveApprover resolves approval requests from a terminal. It prints
// the pending operation and reads one line: y approves, anything starting
// with "i " denies with an instruction, everything else denies.
type InteractiveApprover struct {
	gate    *Gate
	in      *bufio.Reader
	out     io.Writer
	timeout time.Duration
}

func NewInteractiveApprover(gate *Gate, in io.Reader, out io.Writer, timeout time.Duration) *InteractiveApprover {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &InteractiveApprover{
		gate:    gate,
		in:      bufio.NewReader(in),
		out:     out,
		timeout: timeout,
	}
}

// Handle reacts to one event stream event; non-approval events are ignored.
func (a *InteractiveApprover) Handle(ev events.Event) {
	if ev.Type != events.TypeApprovalRequest || ev.RequestID == "" {
		return
	}
	warn := color.New(color.FgYellow, color.Bold)
	warn.Fprintf(a.out, "\n⚠️  工具 %s 请求执行 (风险: %s)\n", ev.Tool, ev.RiskLevel)
	fmt.Fprintf(a.out, "%s\n", ev.Input)
	fmt.Fprintf(a.out, "允许执行? [y/N/i 指示]: ")

	line, ok := a.readLine()
	if !ok {
		// Let the gate's own timeout deny; nothing to resolve here.
		return
	}
	line = strings.TrimSpace(line)
	switch {
	case strings.EqualFold(line, "y") || strings.EqualFold(line, "yes"):
		a.gate.Resolve(ev.RequestID, Decision{Approved: true})
	case strings.HasPrefix(strings.ToLower(line), "i "):
		a.gate.Resolve(ev.RequestID, Decision{Approved: false, Feedback: strings.TrimSpace(line[2:])})
	default:
		a.gate.Resolve(ev.RequestID, Decision{Approved: false})
	}
}

func (a *InteractiveApprover) readLine() (string, bool) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := a.in.ReadString('\n')
		ch <- result{line: line, err: err}
	}()
	select {
	case r := <-ch:
		if r.err != nil && r.line == "" {
			return "", false
		}
		return r.line, true
	case <-time.After(a.timeout):
		return "", false
	}
}
