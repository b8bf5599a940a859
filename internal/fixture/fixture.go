// Package fixture resolves prepared-model directories for benchmark runs.
// A fixture directory is produced by an external preprocessing pipeline and
// holds the model config, compiled module, tokenizer, and weights the
// inference server is launched with.
package fixture

import (
	"fmt"
	"os"
	"path/filepath"
)

// Well-known artifact names inside a prepared model directory.
const (
	ConfigFileName    = "config.json"
	CompiledFileName  = "model.vmfb"
	TokenizerFileName = "tokenizer.json"
)

// Paths holds the resolved artifact paths for one prepared model.
type Paths struct {
	Dir       string
	Config    string // model config (config.json)
	Compiled  string // compiled model module (model.vmfb)
	Tokenizer string // tokenizer.json
	Weights   string // named model parameter file, e.g. *.gguf
}

// Resolve builds the artifact paths inside dir and verifies each file exists.
// Missing artifacts surface here rather than as a launch failure from the
// inference server.
func Resolve(dir, weightsFile string) (*Paths, error) {
	if dir == "" {
		return nil, fmt.Errorf("fixture dir cannot be empty")
	}
	if weightsFile == "" {
		return nil, fmt.Errorf("weights file name cannot be empty")
	}

	p := &Paths{
		Dir:       dir,
		Config:    filepath.Join(dir, ConfigFileName),
		Compiled:  filepath.Join(dir, CompiledFileName),
		Tokenizer: filepath.Join(dir, TokenizerFileName),
		Weights:   filepath.Join(dir, weightsFile),
	}

	for _, f := range []string{p.Config, p.Compiled, p.Tokenizer, p.Weights} {
		info, err := os.Stat(f)
		if err != nil {
			return nil, fmt.Errorf("fixture artifact missing: %s: %w", f, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("fixture artifact is a directory: %s", f)
		}
	}

	return p, nil
}
