package cli

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fpang/image-project-importer/internal/progress"
)

// ConsoleSink prints progress lines for an interactive terminal.
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleSink creates a sink writing to out.
func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{out: out}
}

// Report prints u as "message: current / total (pct%)".
func (s *ConsoleSink) Report(_ context.Context, u progress.Update) error {
	cur, total := fmt.Sprint(u.Current), fmt.Sprint(u.Total)
	if u.IsSize {
		cur, total = FormatBytes(u.Current), FormatBytes(u.Total)
	}
	line := fmt.Sprintf("⏳ %s: %s / %s", u.Message, cur, total)
	if u.Total > 0 {
		line += fmt.Sprintf(" (%d%%)", u.Current*100/u.Total)
	}
	if u.Done() {
		line = "✅" + line[len("⏳"):]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.out, line)
	return err
}
