// Package configstore holds the durable current-phase document. The document
// is a JSON object with a current_phase field; every other top-level field is
// owned by other tools and is written back byte-for-byte in its original order.
package configstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	atomicio "github.com/sawpanic/phasegate/internal/io"
	"github.com/sawpanic/phasegate/internal/phase"
)

// PhaseField is the document key holding the phase token.
const PhaseField = "current_phase"

// ErrNotInitialized is returned by Load when the document does not exist.
var ErrNotInitialized = errors.New("config store not initialized")

// Store reads and atomically overwrites the current phase.
type Store interface {
	Load(ctx context.Context) (phase.Phase, error)
	Save(ctx context.Context, p phase.Phase) error
}

// FileStore is a Store backed by a JSON file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store for path. The file is not touched until Load,
// Save or Init is called.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Init writes an initial document holding p when none exists yet. It reports
// whether a document was created.
func (s *FileStore) Init(ctx context.Context, p phase.Phase) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}

	doc := &document{}
	if err := doc.set(PhaseField, p); err != nil {
		return false, err
	}
	if err := atomicio.WriteFileAtomic(s.path, doc.encode()); err != nil {
		return false, fmt.Errorf("failed to initialize %s: %w", s.path, err)
	}

	log.Info().Str("path", s.path).Str("phase", p.Token()).Msg("Initialized phase config store")
	return true, nil
}

func (s *FileStore) Load(ctx context.Context) (phase.Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return 0, err
	}

	raw, ok := doc.get(PhaseField)
	if !ok {
		return 0, fmt.Errorf("%s: missing %s field", s.path, PhaseField)
	}

	var p phase.Phase
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, fmt.Errorf("%s: invalid %s: %w", s.path, PhaseField, err)
	}
	return p, nil
}

// Save overwrites current_phase, keeping all other fields untouched. A
// missing file is created.
func (s *FileStore) Save(ctx context.Context, p phase.Phase) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if errors.Is(err, ErrNotInitialized) {
		doc = &document{}
	} else if err != nil {
		return err
	}

	if err := doc.set(PhaseField, p); err != nil {
		return err
	}
	if err := atomicio.WriteFileAtomic(s.path, doc.encode()); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) read() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotInitialized, s.path)
	}
	if err != nil {
		return nil, err
	}

	doc, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return doc, nil
}

type field struct {
	key    string
	rawKey []byte
	raw    json.RawMessage
}

// document is a JSON object whose top-level members keep their order and
// exact value bytes.
type document struct {
	fields []field
}

func decodeDocument(data []byte) (*document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("invalid document: expected JSON object")
	}

	doc := &document{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid document: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("invalid document: non-string key")
		}
		rawKey, ok := quotedBefore(data, int(dec.InputOffset()))
		if !ok {
			rawKey = encodeKey(key)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid document: field %q: %w", key, err)
		}
		doc.fields = append(doc.fields, field{key: key, rawKey: rawKey, raw: raw})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	return doc, nil
}

func (d *document) get(key string) (json.RawMessage, bool) {
	for _, f := range d.fields {
		if f.key == key {
			return f.raw, true
		}
	}
	return nil, false
}

func (d *document) set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	for i := range d.fields {
		if d.fields[i].key == key {
			d.fields[i].raw = raw
			return nil
		}
	}
	d.fields = append(d.fields, field{key: key, rawKey: encodeKey(key), raw: raw})
	return nil
}

// quotedBefore returns the JSON string literal that ends at offset end,
// exactly as it appears in data.
func quotedBefore(data []byte, end int) ([]byte, bool) {
	if end < 2 || end > len(data) || data[end-1] != '"' {
		return nil, false
	}
	for i := end - 2; i >= 0; i-- {
		if data[i] != '"' {
			continue
		}
		escapes := 0
		for j := i - 1; j >= 0 && data[j] == '\\'; j-- {
			escapes++
		}
		if escapes%2 == 0 {
			return append([]byte(nil), data[i:end]...), true
		}
	}
	return nil, false
}

func encodeKey(key string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(key); err != nil {
		return []byte(`""`)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

func (d *document) encode() []byte {
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, f := range d.fields {
		buf.WriteString("  ")
		buf.Write(f.rawKey)
		buf.WriteString(": ")
		buf.Write(f.raw)
		if i < len(d.fields)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes()
}
