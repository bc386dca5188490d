package progression

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	atomicio "github.com/sawpanic/phasegate/internal/io"
	"github.com/sawpanic/phasegate/internal/phase"
)

// Intent is written before the config store is touched and removed once the
// transition is durable or fully reverted.
type Intent struct {
	TransitionID string      `json:"transition_id"`
	From         phase.Phase `json:"from"`
	To           phase.Phase `json:"to"`
	Forced       bool        `json:"forced"`
	CreatedAt    time.Time   `json:"created_at"`
}

// IntentStore holds at most one intent.
type IntentStore interface {
	Load(ctx context.Context) (*Intent, error)
	Save(ctx context.Context, in Intent) error
	Clear(ctx context.Context) error
}

// FileIntentStore keeps the intent as a single JSON file.
type FileIntentStore struct {
	mu   sync.Mutex
	path string
}

func NewFileIntentStore(path string) *FileIntentStore {
	return &FileIntentStore{path: path}
}

// Load returns nil when no intent is pending.
func (s *FileIntentStore) Load(ctx context.Context) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var in Intent
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%s: invalid intent: %w", s.path, err)
	}
	return &in, nil
}

func (s *FileIntentStore) Save(ctx context.Context, in Intent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return atomicio.WriteJSONAtomic(s.path, in)
}

func (s *FileIntentStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return atomicio.RemoveIfExists(s.path)
}

type noIntents struct{}

func (noIntents) Load(context.Context) (*Intent, error) { return nil, nil }
func (noIntents) Save(context.Context, Intent) error    { return nil }
func (noIntents) Clear(context.Context) error           { return nil }
