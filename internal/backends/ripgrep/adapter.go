// Package ripgrep implements the search backend by running rg --json.
package ripgrep

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"codetax/internal/backends"
	cterrors "codetax/internal/errors"
)

const (
	// DefaultBinary is looked up on PATH when no explicit binary is set
	DefaultBinary = "rg"

	// maxLineBytes bounds a single rg JSON event
	maxLineBytes = 16 * 1024 * 1024
)

// Adapter runs ripgrep for every query
type Adapter struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewAdapter creates a ripgrep backend. A zero timeout disables the limit.
func NewAdapter(binary string, timeout time.Duration, logger *slog.Logger) *Adapter {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Adapter{
		binary:  binary,
		timeout: timeout,
		logger:  logger,
	}
}

// ID returns the backend identifier
func (a *Adapter) ID() backends.BackendID {
	return backends.BackendRipgrep
}

// IsAvailable checks that the rg binary can be found
func (a *Adapter) IsAvailable() bool {
	_, err := exec.LookPath(a.binary)
	return err == nil
}

// Args builds the rg argument list for q.
func Args(q backends.Query) []string {
	args := []string{"--json", "-e", q.Pattern}
	for _, g := range q.Globs {
		args = append(args, "-g", g)
	}
	args = append(args, "--")
	args = append(args, q.Paths...)
	return args
}

// Search runs rg and streams every submatch to fn.
// Exit codes 0 (matches) and 1 (no matches) are success.
func (a *Adapter) Search(ctx context.Context, q backends.Query, fn backends.MatchFunc) error {
	if !a.IsAvailable() {
		return unavailable(q, "ripgrep binary not found", exec.ErrNotFound)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	// Cancelled when fn stops early so rg does not linger
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	args := Args(q)
	a.logger.Debug("rg args", "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, a.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return unavailable(q, "failed to open ripgrep output", err)
	}
	if err := cmd.Start(); err != nil {
		return unavailable(q, "failed to start ripgrep", err)
	}

	streamErr := decodeStream(stdout, fn)
	if streamErr != nil {
		stop()
		_ = cmd.Wait()
		return streamErr
	}

	if err := cmd.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return cterrors.NewError(cterrors.Timeout, "ripgrep timed out", err, nil).
				WithDetails(queryDetails(q))
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil
		}
		return unavailable(q, fmt.Sprintf("ripgrep failed: %s", strings.TrimSpace(stderr.String())), err)
	}
	return nil
}

// event is one line of rg --json output
type event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// arbitraryData is rg's encoding for text that may not be UTF-8
type arbitraryData struct {
	Text  *string `json:"text"`
	Bytes *string `json:"bytes"`
}

func (d arbitraryData) String() string {
	if d.Text != nil {
		return *d.Text
	}
	if d.Bytes != nil {
		raw, err := base64.StdEncoding.DecodeString(*d.Bytes)
		if err == nil {
			return string(raw)
		}
	}
	return ""
}

type matchData struct {
	Path       arbitraryData `json:"path"`
	Lines      arbitraryData `json:"lines"`
	LineNumber int           `json:"line_number"`
	Submatches []struct {
		Match arbitraryData `json:"match"`
		Start int           `json:"start"`
		End   int           `json:"end"`
	} `json:"submatches"`
}

// decodeStream parses rg --json output and calls fn per submatch.
func decodeStream(r io.Reader, fn backends.MatchFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("failed to parse ripgrep output: %w", err)
		}
		if ev.Type != "match" {
			continue
		}

		var data matchData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return fmt.Errorf("failed to parse ripgrep match: %w", err)
		}

		base := backends.Match{
			Path:       data.Path.String(),
			LineNumber: data.LineNumber,
			Line:       data.Lines.String(),
		}
		for _, sub := range data.Submatches {
			m := base
			m.Text = sub.Match.String()
			m.Start = sub.Start
			m.End = sub.End
			if err := fn(m); err != nil {
				return err
			}
		}
	}

	return scanner.Err()
}

func unavailable(q backends.Query, message string, cause error) error {
	return cterrors.NewError(cterrors.BackendUnavailable, message, cause, nil).
		WithDetails(queryDetails(q))
}

func queryDetails(q backends.Query) map[string]interface{} {
	return map[string]interface{}{
		"pattern": q.Pattern,
		"paths":   q.Paths,
		"globs":   q.Globs,
	}
}
