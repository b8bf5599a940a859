// Package results handles benchmark trial output: the JSON-lines request
// records the load generator emits, aggregate analysis, and persistence.
package results

import (
	"encoding/json"
	"fmt"
	"os"
)

// RequestRecord is one line of a trial's JSON-lines output file,
// describing a single completion request.
type RequestRecord struct {
	Timestamp        int64   `json:"t"` // unix seconds at request start
	RequestNum       int     `json:"n"`
	PromptTokens     int     `json:"ptok,omitempty"`
	CompletionTokens int     `json:"tok,omitempty"`
	TTFTMs           float64 `json:"ttft_ms,omitempty"`
	LatencyMs        float64 `json:"latency_ms,omitempty"`
	TokensPerSec     float64 `json:"tps,omitempty"`
	Error            bool    `json:"err,omitempty"`
	ErrorMsg         string  `json:"error_msg,omitempty"`
}

// Writer appends request records to a JSON-lines file, one object per line.
type Writer struct {
	f   *os.File
	enc *json.Encoder
}

// NewWriter creates (truncating) the output file
func NewWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return &Writer{f: f, enc: json.NewEncoder(f)}, nil
}

// Append writes one record as a single JSON line
func (w *Writer) Append(rec RequestRecord) error {
	return w.enc.Encode(rec)
}

// Close flushes and closes the underlying file
func (w *Writer) Close() error {
	return w.f.Close()
}
