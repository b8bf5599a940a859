// Package loadgen generates paced completion load against an inference
// server and records one JSON line per request.
package loadgen

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Args configures one load-generation trial.
type Args struct {
	Backend string  `validate:"required"`
	BaseURL string  `validate:"required,url"`
	Model   string  // discovered from /v1/models when empty

	NumPrompts  int     `validate:"required,gt=0"`
	RequestRate float64 `validate:"required,gt=0"` // requests per second

	PromptTokens int `validate:"gte=0"`
	MaxTokens    int `validate:"gte=0"`

	OutputDir      string `validate:"required"`
	RequestTimeout time.Duration
}

// Validate checks the trial arguments.
func (a Args) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("invalid load generation args: %w", err)
	}
	return nil
}

// OutputFileName returns the trial's output file name,
// "<backend>_<num_prompts>_<request_rate>.jsonl". The rate keeps its
// shortest exact representation so distinct rates never collide.
func (a Args) OutputFileName() string {
	rate := strconv.FormatFloat(a.RequestRate, 'f', -1, 64)
	return fmt.Sprintf("%s_%d_%s.jsonl", a.Backend, a.NumPrompts, rate)
}

// OutputPath returns the full path of the trial's output file.
func (a Args) OutputPath() string {
	return filepath.Join(a.OutputDir, a.OutputFileName())
}
