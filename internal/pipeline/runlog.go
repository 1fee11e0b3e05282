package pipeline

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// RunLog appends timestamped lines to the run's workflow log so a run can
// be diagnosed after the fact. An optional echo writer mirrors lines to
// the caller's sink; there is no global output state to toggle.
type RunLog struct {
	mu   sync.Mutex
	file *os.File
	echo io.Writer
	now  func() time.Time
}

func OpenRunLog(path string, echo io.Writer) (*RunLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return &RunLog{file: f, echo: echo, now: time.Now}, nil
}

func (l *RunLog) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Printf writes one timestamped line.
func (l *RunLog) Printf(format string, args ...any) {
	if l == nil || l.file == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.file, "[%s] %s\n", l.now().UTC().Format(time.RFC3339), line)
	if l.echo != nil {
		fmt.Fprintln(l.echo, line)
	}
}

// Raw writes lines without a timestamp, for the log banner.
func (l *RunLog) Raw(lines ...string) {
	if l == nil || l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range lines {
		fmt.Fprintln(l.file, line)
	}
}
