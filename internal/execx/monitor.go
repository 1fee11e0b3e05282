// Package execx runs the pipeline's external tools under a hard timeout
// and accounts for their resource consumption.
package execx

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Invocation describes one external command run.
type Invocation struct {
	Label   string
	Command string
	Args    []string
	Dir     string

	// StdoutPath redirects the command's stdout into a file. The file is
	// written to a temp path and renamed only after a clean exit, so an
	// artifact probe never sees partial output.
	StdoutPath string

	// LogPath appends the command line and its stderr (and stdout when not
	// redirected) to a log file.
	LogPath string

	// Timeout bounds the invocation; zero means no limit. On expiry the
	// whole process group is killed.
	Timeout time.Duration
}

// Result reports how an invocation ended. The sample is recorded with the
// monitor regardless of outcome.
type Result struct {
	ExitCode int
	TimedOut bool
	Sample   Sample
}

// Monitor measures external invocations and accumulates run-wide totals.
// Samples are appended to a log file as they are taken; the append is a
// single O_APPEND write, safe under concurrent callers.
type Monitor struct {
	mu      sync.Mutex
	logPath string
	totals  Totals
}

func NewMonitor(sampleLogPath string) *Monitor {
	return &Monitor{logPath: sampleLogPath}
}

// Run executes the invocation and records a resource sample. A non-zero
// exit, a start failure, or a timeout is returned as the error; the sample
// is recorded in every case.
func (m *Monitor) Run(ctx context.Context, inv Invocation) (Result, error) {
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, inv.Command, inv.Args...)
	cmd.Dir = inv.Dir
	configureCommandProcess(cmd)
	cmd.Cancel = func() error {
		terminateCommandProcess(cmd)
		return nil
	}
	cmd.WaitDelay = 5 * time.Second

	var logFile *os.File
	if inv.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(inv.LogPath), 0o755); err != nil {
			return Result{}, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(inv.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return Result{}, fmt.Errorf("open command log: %w", err)
		}
		defer f.Close()
		fmt.Fprintf(f, "$ %s %s\n", inv.Command, strings.Join(inv.Args, " "))
		logFile = f
		cmd.Stderr = f
	}

	var stdoutTmp *os.File
	if inv.StdoutPath != "" {
		tmp, err := os.CreateTemp(filepath.Dir(inv.StdoutPath), filepath.Base(inv.StdoutPath)+".tmp-*")
		if err != nil {
			return Result{}, fmt.Errorf("create stdout temp: %w", err)
		}
		defer os.Remove(tmp.Name())
		stdoutTmp = tmp
		cmd.Stdout = tmp
	} else if logFile != nil {
		cmd.Stdout = logFile
	} else {
		cmd.Stdout = io.Discard
	}

	start := time.Now()
	runErr := cmd.Run()
	wall := time.Since(start)

	sample := takeSample(inv.Label, wall, cmd.ProcessState)
	m.Record(sample)

	res := Result{ExitCode: -1, TimedOut: ctx.Err() == context.DeadlineExceeded, Sample: sample}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if stdoutTmp != nil {
		closeErr := stdoutTmp.Close()
		if runErr == nil && !res.TimedOut {
			if closeErr != nil {
				return res, fmt.Errorf("close stdout temp: %w", closeErr)
			}
			if err := os.Rename(stdoutTmp.Name(), inv.StdoutPath); err != nil {
				return res, fmt.Errorf("rename stdout: %w", err)
			}
		}
	}

	if res.TimedOut {
		return res, fmt.Errorf("%s timed out after %s", inv.Label, inv.Timeout)
	}
	if runErr != nil {
		return res, fmt.Errorf("%s: %w", inv.Label, runErr)
	}
	return res, nil
}

// Record folds a sample into the totals and appends it to the sample log.
func (m *Monitor) Record(s Sample) {
	m.mu.Lock()
	m.totals.Add(s)
	m.mu.Unlock()
	m.appendSample(s)
}

// Totals returns a snapshot of the accumulated totals.
func (m *Monitor) Totals() Totals {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals
}

func (m *Monitor) appendSample(s Sample) {
	if m.logPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.logPath), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(m.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s\t%s\t%.3f\t%.3f\t%d\t%t\n",
		time.Now().UTC().Format(time.RFC3339), s.Label,
		s.Wall.Seconds(), s.CPU.Seconds(), s.PeakRSS, s.Measured)
}

// WriteReport flushes a totals summary to path. It is called at run end
// on both success and failure so aborted runs still report their cost.
func (m *Monitor) WriteReport(path string) error {
	t := m.Totals()
	content := fmt.Sprintf(
		"commands_executed:\t%d\nwall_seconds_total:\t%.3f\ncpu_seconds_total:\t%.3f\npeak_rss_max_bytes:\t%d\n",
		t.Commands, t.Wall.Seconds(), t.CPU.Seconds(), t.PeakRSS)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write resource report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename resource report: %w", err)
	}
	return nil
}
