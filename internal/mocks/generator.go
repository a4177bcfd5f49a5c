package mocks

import (
	"context"
	"sync"

	"github.com/Veraticus/ollamacord/internal/ollama"
	"github.com/Veraticus/ollamacord/internal/relay"
)

// Script is the event sequence returned for one Generate call.
type Script struct {
	Events []ollama.StreamEvent

	// BeforeEvent runs before the i-th event is sent, e.g. to advance a fake clock.
	BeforeEvent func(i int)

	// Hang makes the stream wait for ctx after Events and then fail with the context
	// error, the way a stalled backend behaves.
	Hang bool
}

// Tokens builds a script of token events ending in Done(ctx).
func Tokens(ctx []int, tokens ...string) Script {
	events := make([]ollama.StreamEvent, 0, len(tokens)+1)
	for _, tok := range tokens {
		events = append(events, ollama.Token(tok))
	}
	return Script{Events: append(events, ollama.Done(ctx))}
}

// Failing builds a script of token events ending in Failure(err).
func Failing(err error, tokens ...string) Script {
	events := make([]ollama.StreamEvent, 0, len(tokens)+1)
	for _, tok := range tokens {
		events = append(events, ollama.Token(tok))
	}
	return Script{Events: append(events, ollama.Failure(err))}
}

// Generator is a relay.Generator that plays back scripts in order and records requests.
type Generator struct {
	mu       sync.Mutex
	scripts  []Script
	requests []ollama.GenerateRequest
	wg       sync.WaitGroup
}

// NewGenerator creates a generator with the given scripts.
func NewGenerator(scripts ...Script) *Generator {
	return &Generator{scripts: scripts}
}

// AddScript queues another script.
func (g *Generator) AddScript(s Script) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts = append(g.scripts, s)
	return g
}

// Generate implements relay.Generator. With no scripts left it fails immediately.
func (g *Generator) Generate(ctx context.Context, req ollama.GenerateRequest) <-chan ollama.StreamEvent {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	var script Script
	if len(g.scripts) > 0 {
		script = g.scripts[0]
		g.scripts = g.scripts[1:]
	} else {
		script = Script{Events: []ollama.StreamEvent{ollama.Failure(&ollama.StatusError{Code: 500, Body: "no script"})}}
	}
	g.mu.Unlock()

	events := make(chan ollama.StreamEvent)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer close(events)

		for i, ev := range script.Events {
			if script.BeforeEvent != nil {
				script.BeforeEvent(i)
			}
			events <- ev
		}
		if script.Hang {
			<-ctx.Done()
			events <- ollama.Failure(&ollama.ConnectionError{Op: "read stream", Err: ctx.Err()})
		}
	}()
	return events
}

// Requests returns every request received so far.
func (g *Generator) Requests() []ollama.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ollama.GenerateRequest(nil), g.requests...)
}

// Wait blocks until every producer goroutine has exited.
func (g *Generator) Wait() {
	g.wg.Wait()
}

var _ relay.Generator = (*Generator)(nil)
