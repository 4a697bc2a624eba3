
// Package toolrunner executes named external programs from a fixed tools/
// directory under a per-call timeout (§4.4). Every invocation is logged
// with secrets redacted from its arguments, and stdout/stderr are captured
// as UTF-8 in a bounded buffer that keeps the first 4 KiB and discards the
// rest, so a runaway tool cannot exhaust memory while its exit code remains
// authoritative.
package toolrunner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/vidforge/orchestrator/internal/orcherr"
)

const maxCapturedBytes = 4 * 1024 // 4 KiB

var secretValuePattern = regexp.MustCompile(`(?i)(api_?key|token|secret|password)=`)

// quotaMarkerPattern matches the documented "quota exhausted" stderr marker
// (§4.8.2/§7): any mention of "quota" in a failing tool's stderr is treated
// as that provider signaling exhaustion rather than an ordinary failure.
var quotaMarkerPattern = regexp.MustCompile(`(?i)quota`)

var secretKeys = map[string]bool{
	"--api-key":  true,
	"--token":    true,
	"--secret":   true,
	"--password": true,
}

// Runner executes programs rooted under a fixed tools directory.
type Runner struct {
	toolsDir string
	logger   zerolog.Logger
}

// New builds a Runner scoped to toolsDir. Every Run call rejects executable
// paths that resolve outside toolsDir.
func New(toolsDir string, logger zerolog.Logger) (*Runner, error) {
	abs, err := filepath.Abs(toolsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve tools dir: %w", err)
	}
	return &Runner{toolsDir: abs, logger: logger}, nil
}

// Result holds the outcome of a successful (exit code 0) invocation.
type Result struct {
	Stdout string
	Stderr string
}

// Run executes program (resolved relative to the tools directory) with args,
// bounded by timeout. It returns (*Result, nil) on exit code 0,
// (*orcherr.ToolFailureError, ...) on non-zero exit, and
// (*orcherr.TimeoutError, ...) on timeout.
func (r *Runner) Run(ctx context.Context, program string, args []string, timeout time.Duration) (*Result, error) {
	resolved, err := r.resolveProgram(program)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, resolved, args...)

	var stdout, stderr boundedBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Info().
		Str("program", program).
		Strs("args", redactArgs(args)).
		Msg("tool invocation starting")

	err = cmd.Run()

	stdoutStr := sanitizeUTF8(stdout.String())
	stderrStr := sanitizeUTF8(stderr.String())

	if runCtx.Err() == context.DeadlineExceeded {
		r.logger.Error().Str("program", program).Dur("timeout", timeout).Msg("tool invocation timed out")
		return nil, &orcherr.TimeoutError{Operation: program, Seconds: timeout.Seconds()}
	}

	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if isExitError(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		r.logger.Error().
			Str("program", program).
			Int("exit_code", exitCode).
			Str("stderr", stderrStr).
			Msg("tool invocation failed")
		return nil, &orcherr.ToolFailureError{
			Program:   program,
			ExitCode:  exitCode,
			Stderr:    stderrStr,
			QuotaMark: quotaMarkerPattern.MatchString(stderrStr),
		}
	}

	r.logger.Info().Str("program", program).Msg("tool invocation succeeded")
	return &Result{Stdout: stdoutStr, Stderr: stderrStr}, nil
}

func isExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

func (r *Runner) resolveProgram(program string) (string, error) {
	joined := filepath.Join(r.toolsDir, program)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("resolve program path: %w", err)
	}

	rel, err := filepath.Rel(r.toolsDir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &orcherr.PathEscapeError{Identifier: program, Resolved: abs}
	}

	return abs, nil
}

// redactArgs returns a copy of args with secret-bearing values replaced by
// [REDACTED], for safe logging (§4.4 rule 6).
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		if key, value, ok := splitKeyValue(arg); ok {
			if secretKeys[key] || secretValuePattern.MatchString(key+"=") {
				out[i] = key + "=[REDACTED]"
				continue
			}
			_ = value
		}
		if secretValuePattern.MatchString(arg) {
			out[i] = "[REDACTED]"
			continue
		}
		if i > 0 && secretKeys[args[i-1]] {
			out[i] = "[REDACTED]"
			continue
		}
		out[i] = arg
	}
	return out
}

func splitKeyValue(arg string) (key, value string, ok bool) {
	idx := strings.Index(arg, "=")
	if idx < 0 {
		return "", "", false
	}
	return arg[:idx], arg[idx+1:], true
}

// sanitizeUTF8 replaces invalid byte sequences with the Unicode replacement
// character, per §4.4 rule 3.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	for i, r := range s {
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				b.WriteRune(utf8.RuneError)
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// boundedBuffer caps the amount of data retained for logging at
// maxCapturedBytes while still letting the full output flow to the process
// (io.Writer semantics never report short writes here, so the caller's exit
// code stays authoritative regardless of how much output was produced).
type boundedBuffer struct {
	buf bytes.Buffer
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if b.buf.Len() < maxCapturedBytes {
		remaining := maxCapturedBytes - b.buf.Len()
		if remaining > len(p) {
			remaining = len(p)
		}
		b.buf.Write(p[:remaining])
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	return b.buf.String()
}
