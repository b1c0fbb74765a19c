package sink

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// Stdout writes lines to an io.Writer (os.Stdout in production). It is
// the zero-config default sink and requires no third-party dependency
// (spec.md §4.9).
type Stdout struct {
	w io.Writer
}

func init() {
	Register("stdout", func(map[string]any, *zap.SugaredLogger) (Sink, error) {
		return &Stdout{w: os.Stdout}, nil
	})
}

// NewStdout is exposed for tests that want to capture output.
func NewStdout(w io.Writer) *Stdout {
	return &Stdout{w: w}
}

func (s *Stdout) Send(line string) error {
	_, err := fmt.Fprintln(s.w, line)
	return err
}

func (s *Stdout) Close() error { return nil }
