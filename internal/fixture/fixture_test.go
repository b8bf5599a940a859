package fixture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWeights = "meta-llama-3.1-8b-instruct.f16.gguf"

func writeFixtureDir(t *testing.T, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	return dir
}

func TestResolve_AllArtifactsPresent(t *testing.T) {
	dir := writeFixtureDir(t, ConfigFileName, CompiledFileName, TokenizerFileName, testWeights)

	p, err := Resolve(dir, testWeights)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "config.json"), p.Config)
	assert.Equal(t, filepath.Join(dir, "model.vmfb"), p.Compiled)
	assert.Equal(t, filepath.Join(dir, "tokenizer.json"), p.Tokenizer)
	assert.Equal(t, filepath.Join(dir, testWeights), p.Weights)
}

func TestResolve_MissingWeights(t *testing.T) {
	dir := writeFixtureDir(t, ConfigFileName, CompiledFileName, TokenizerFileName)

	_, err := Resolve(dir, testWeights)
	require.Error(t, err)
	assert.Contains(t, err.Error(), testWeights)
}

func TestResolve_MissingCompiledModel(t *testing.T) {
	dir := writeFixtureDir(t, ConfigFileName, TokenizerFileName, testWeights)

	_, err := Resolve(dir, testWeights)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.vmfb")
}

func TestResolve_EmptyArgs(t *testing.T) {
	_, err := Resolve("", testWeights)
	assert.Error(t, err)

	_, err = Resolve(t.TempDir(), "")
	assert.Error(t, err)
}

func TestResolve_ArtifactIsDirectory(t *testing.T) {
	dir := writeFixtureDir(t, ConfigFileName, CompiledFileName, TokenizerFileName)
	require.NoError(t, os.Mkdir(filepath.Join(dir, testWeights), 0755))

	_, err := Resolve(dir, testWeights)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory")
}
