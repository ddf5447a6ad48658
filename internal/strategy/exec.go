package strategy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/quarrylabs/quarry/internal/core"
	"github.com/quarrylabs/quarry/internal/domain/model"
)

const (
	// maxRawOutputBytes caps the output retained on the ResultRecord so a
	// chatty binary cannot bloat the jobs table. Log shipping still sees
	// every line.
	maxRawOutputBytes = 64 * 1024

	parametersFileName = "parameters.json"
)

// ExecStrategyOptions configures an ExecStrategy.
type ExecStrategyOptions struct {
	// Binary is the external program to invoke.
	Binary string
	// Args are passed before the parameters file path.
	Args   []string
	Logger *slog.Logger
}

// ExecStrategy is the reference compute strategy: it invokes an external
// process with the job parameters written to a file in the working
// directory, streams its output lines to the log sink, and reads a JSON
// result document from the last output line.
//
// Expected failure modes (non-zero exit, malformed output) become failure
// results. A non-nil error is returned only for programmer errors, wrapped
// in ErrExecution, or when ctx is done, in which case the subprocess has
// been forcibly terminated.
type ExecStrategy struct {
	binary string
	args   []string
	logger *slog.Logger
}

var _ Strategy = (*ExecStrategy)(nil)

// NewExecStrategy creates an ExecStrategy.
func NewExecStrategy(opts ExecStrategyOptions) (*ExecStrategy, error) {
	if strings.TrimSpace(opts.Binary) == "" {
		return nil, errors.New("binary is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecStrategy{binary: opts.Binary, args: opts.Args, logger: logger}, nil
}

// Run executes the binary and blocks until it exits or ctx is done.
func (s *ExecStrategy) Run(
	ctx context.Context,
	ec *model.ExecutionContext,
	sink core.LogSink,
) (*model.ResultRecord, error) {
	workDir, err := s.prepareWorkDir(ec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecution, err)
	}

	cmd := exec.Command(s.binary, append(append([]string(nil), s.args...), parametersFileName)...)
	cmd.Dir = workDir

	// One pipe carries stdout and stderr interleaved so the log stream
	// reads the way the process wrote it.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: output pipe: %w", ErrExecution, err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("%w: start %s: %w", ErrExecution, s.binary, err)
	}
	// The child holds its own copy of the write end.
	_ = pw.Close()

	collector := newOutputCollector(sink)
	var readWG sync.WaitGroup
	readWG.Add(1)
	go func() {
		defer readWG.Done()
		collector.consume(pr)
	}()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		// Hard timeout or shutdown: forcibly terminate the subprocess so
		// the goroutine and pipe always unwind.
		if killErr := cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			s.logger.Warn("kill subprocess failed", "job_key", ec.JobKey, "error", killErr)
		}
		<-waitCh
		// Close the read end first: grandchildren inherited the write end
		// and would otherwise keep the reader blocked past the kill.
		_ = pr.Close()
		readWG.Wait()
		return nil, ctx.Err()
	}

	readWG.Wait()
	_ = pr.Close()

	return s.buildResult(ec, collector, waitErr), nil
}

func (s *ExecStrategy) prepareWorkDir(ec *model.ExecutionContext) (string, error) {
	workDir := ec.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "quarry", ec.JobKey)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	params := ec.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	if err := os.WriteFile(filepath.Join(workDir, parametersFileName), params, 0o644); err != nil {
		return "", fmt.Errorf("write parameters file: %w", err)
	}
	return workDir, nil
}

func (s *ExecStrategy) buildResult(
	ec *model.ExecutionContext,
	collector *outputCollector,
	waitErr error,
) *model.ResultRecord {
	rawOutput := collector.output()

	if waitErr != nil {
		var exitErr *exec.ExitError
		message := waitErr.Error()
		if errors.As(waitErr, &exitErr) {
			message = fmt.Sprintf("process exited with status %d", exitErr.ExitCode())
		}
		s.logger.Info("subprocess failed", "job_key", ec.JobKey, "message", message)
		return &model.ResultRecord{
			Status:    model.ResultFailure,
			Message:   message,
			RawOutput: rawOutput,
		}
	}

	doc, ok := collector.resultDocument()
	if !ok {
		return &model.ResultRecord{
			Status:    model.ResultFailure,
			Message:   "malformed output: missing result document",
			RawOutput: rawOutput,
		}
	}
	return &model.ResultRecord{
		Status:    model.ResultSuccess,
		RawOutput: rawOutput,
		Extra:     doc,
	}
}

// outputCollector streams subprocess lines to the log sink while retaining
// a bounded copy and the final line (the result document).
type outputCollector struct {
	sink      core.LogSink
	builder   strings.Builder
	lastLine  string
	truncated bool
}

func newOutputCollector(sink core.LogSink) *outputCollector {
	return &outputCollector{sink: sink}
}

func (c *outputCollector) consume(r *os.File) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if c.sink != nil {
			c.sink.Emit(line)
		}
		if strings.TrimSpace(line) != "" {
			c.lastLine = line
		}
		if c.builder.Len() < maxRawOutputBytes {
			c.builder.WriteString(line)
			c.builder.WriteByte('\n')
		} else {
			c.truncated = true
		}
	}
}

func (c *outputCollector) output() string {
	out := c.builder.String()
	if c.truncated {
		out += "... [truncated]\n"
	}
	return out
}

// resultDocument parses the final non-empty output line as a JSON object.
func (c *outputCollector) resultDocument() (json.RawMessage, bool) {
	line := strings.TrimSpace(c.lastLine)
	if line == "" || !strings.HasPrefix(line, "{") {
		return nil, false
	}
	if !json.Valid([]byte(line)) {
		return nil, false
	}
	return json.RawMessage(line), true
}
