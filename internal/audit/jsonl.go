package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	atomicio "github.com/sawpanic/phasegate/internal/io"
)

const maxLineBytes = 1 << 20

// FileHistoryLog stores one JSON-encoded PhaseTransition per line.
type FileHistoryLog struct {
	mu   sync.Mutex
	path string
}

// NewFileHistoryLog returns a history log appending to path.
func NewFileHistoryLog(path string) *FileHistoryLog {
	return &FileHistoryLog{path: path}
}

func (l *FileHistoryLog) Append(ctx context.Context, t PhaseTransition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode transition %s: %w", t.TransitionID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return atomicio.AppendLine(l.path, line)
}

func (l *FileHistoryLog) Latest(ctx context.Context) (*PhaseTransition, error) {
	records, err := l.Entries(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	latest := records[len(records)-1]
	return &latest, nil
}

// Entries returns every record in append order.
func (l *FileHistoryLog) Entries(ctx context.Context) ([]PhaseTransition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []PhaseTransition
	err := readLines(l.path, func(n int, line []byte) error {
		var t PhaseTransition
		if err := json.Unmarshal(line, &t); err != nil {
			return fmt.Errorf("%s line %d: %w", l.path, n, err)
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

// FileOverrideLog stores one JSON-encoded OverrideAttempt per line.
type FileOverrideLog struct {
	mu   sync.Mutex
	path string
}

// NewFileOverrideLog returns an override log appending to path.
func NewFileOverrideLog(path string) *FileOverrideLog {
	return &FileOverrideLog{path: path}
}

func (l *FileOverrideLog) Append(ctx context.Context, a OverrideAttempt) error {
	line, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode override attempt: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return atomicio.AppendLine(l.path, line)
}

// Entries returns every attempt in append order.
func (l *FileOverrideLog) Entries(ctx context.Context) ([]OverrideAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []OverrideAttempt
	err := readLines(l.path, func(n int, line []byte) error {
		var a OverrideAttempt
		if err := json.Unmarshal(line, &a); err != nil {
			return fmt.Errorf("%s line %d: %w", l.path, n, err)
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

// readLines calls fn for every non-blank line. A missing file has no lines.
func readLines(path string, fn func(n int, line []byte) error) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	n := 0
	for scanner.Scan() {
		n++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(n, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}
