package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
)

// FileProvider reads a JSON object written by the external metrics job.
// Numbers are kept as json.Number so their text survives into audit records.
type FileProvider struct {
	path string
}

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

func (p *FileProvider) Snapshot(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, &ProviderError{
			Provider:  "file",
			Code:      ErrCodeUnavailable,
			Message:   "cannot read " + p.path,
			Temporary: true,
			Cause:     err,
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var metrics map[string]any
	if err := dec.Decode(&metrics); err != nil || metrics == nil {
		return nil, &ProviderError{
			Provider: "file",
			Code:     ErrCodeInvalidData,
			Message:  p.path + " is not a JSON object",
			Cause:    err,
		}
	}
	return metrics, nil
}
