package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultSimulatedDelay emulates the latency of a real call.
const DefaultSimulatedDelay = time.Second

const simulatedPrefixLen = 30

// SimulatedProvider stands in for a provider without a usable public API.
// It needs no credential and always answers after Delay unless the context
// ends first.
type SimulatedProvider struct {
	name  string
	Delay time.Duration
}

func NewSimulated(name string, delay time.Duration) *SimulatedProvider {
	return &SimulatedProvider{name: name, Delay: delay}
}

func (p *SimulatedProvider) Name() string { return p.name }

func (p *SimulatedProvider) Generate(ctx context.Context, req Request) Outcome {
	t := time.NewTimer(p.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return generationFailure(p.name, TransportError, ctx.Err())
	case <-t.C:
	}
	return Success(p.name, SimulatedReply(p.name, req.UserMessage))
}

// SimulatedReply is the canned text the simulated provider returns.
func SimulatedReply(name, userMessage string) string {
	return fmt.Sprintf("[SIMULATED %s RESPONSE] As %s doesn't have a public API yet, "+
		"this is a simulated response to demonstrate functionality.\n\n"+
		"In response to your query about '%s...', "+
		"I would provide gynecological information while recommending "+
		"consultation with a healthcare provider for proper diagnosis.",
		strings.ToUpper(name), name, truncateRunes(userMessage, simulatedPrefixLen))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
