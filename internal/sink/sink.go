// Package sink implements the fan-out destinations for collected
// metric lines (spec.md §4.9). Sinks are selected by stable string
// identifier from a compile-time registry — replacing the original's
// runtime pydoc.locate-style dynamic type resolution, which has no
// portable equivalent in a compiled language (spec.md §REDESIGN FLAGS,
// "Sink plugin loading").
package sink

import (
	"fmt"

	"go.uber.org/zap"
)

// Sink is anything that can accept a line of collector output.
// Implementations must be safe for concurrent Send calls from a single
// sender goroutine; Close releases any held resources and is called
// once during supervisor shutdown.
type Sink interface {
	Send(line string) error
	Close() error
}

// Factory builds a Sink from its raw YAML config block. log is given
// to sinks that do background work of their own (e.g. cloudwatch's
// flush loop) so they can report failures without a caller polling them.
type Factory func(raw map[string]any, log *zap.SugaredLogger) (Sink, error)

var registry = map[string]Factory{}

// Register adds a sink constructor under id. Called from each sink
// implementation's init().
func Register(id string, f Factory) {
	registry[id] = f
}

// Build constructs the sink registered under id.
func Build(id string, raw map[string]any, log *zap.SugaredLogger) (Sink, error) {
	f, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("unknown sink %q", id)
	}
	return f(raw, log)
}
