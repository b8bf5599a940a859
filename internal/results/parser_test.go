package results

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestJSONL(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shortfin_10_4.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0644))
	return path
}

func TestParseJSONL(t *testing.T) {
	path := writeTestJSONL(t, `{"t":100,"n":0,"tok":32,"ttft_ms":50,"latency_ms":400,"tps":80}
{"t":101,"n":1,"tok":30,"ttft_ms":45,"latency_ms":380,"tps":79}
{"t":102,"n":2,"err":true,"error_msg":"connection refused"}
`)

	records, err := ParseJSONL(path)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, 0, records[0].RequestNum)
	assert.Equal(t, 32, records[0].CompletionTokens)
	assert.Equal(t, 50.0, records[0].TTFTMs)
	assert.True(t, records[2].Error)
	assert.Equal(t, "connection refused", records[2].ErrorMsg)
}

func TestParseJSONL_SkipsMalformedLines(t *testing.T) {
	path := writeTestJSONL(t, `{"t":100,"n":0,"tok":10,"latency_ms":100}
this line was cut off mid-wr
{"t":101,"n":1,"tok":12,"latency_ms":110}
`)

	records, err := ParseJSONL(path)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestParseJSONL_MissingFile(t *testing.T) {
	_, err := ParseJSONL("/nonexistent/trial.jsonl")
	assert.Error(t, err)
}

func TestWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")

	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(RequestRecord{Timestamp: 100, RequestNum: 0, CompletionTokens: 16, LatencyMs: 250}))
	require.NoError(t, w.Append(RequestRecord{Timestamp: 101, RequestNum: 1, Error: true, ErrorMsg: "timeout"}))
	require.NoError(t, w.Close())

	records, err := ParseJSONL(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 16, records[0].CompletionTokens)
	assert.True(t, records[1].Error)
}

func TestAnalyze(t *testing.T) {
	records := []RequestRecord{
		{Timestamp: 100, RequestNum: 0, CompletionTokens: 40, TTFTMs: 50, LatencyMs: 400},
		{Timestamp: 101, RequestNum: 1, CompletionTokens: 50, TTFTMs: 60, LatencyMs: 500},
		{Timestamp: 102, RequestNum: 2, CompletionTokens: 30, TTFTMs: 40, LatencyMs: 300},
		{Timestamp: 103, RequestNum: 3, Error: true, ErrorMsg: "503"},
		{Timestamp: 104, RequestNum: 4, CompletionTokens: 60, TTFTMs: 70, LatencyMs: 600},
	}

	s := Analyze(records)

	assert.Equal(t, 5, s.TotalRequests)
	assert.Equal(t, 1, s.TotalErrors)
	assert.Equal(t, 180, s.TotalTokens)
	assert.InDelta(t, 0.2, s.ErrorRate, 0.001)

	// Span: (104-100)s + 600ms latency of the last record
	assert.InDelta(t, 4.6, s.DurationSeconds, 0.001)
	assert.InDelta(t, 4.0/4.6, s.RequestThroughput, 0.001)
	assert.InDelta(t, 180.0/4.6, s.OutputThroughput, 0.001)

	assert.Equal(t, 300.0, s.MinLatencyMs)
	assert.Equal(t, 600.0, s.MaxLatencyMs)
	assert.InDelta(t, 450.0, s.AvgLatencyMs, 0.001)
	assert.Equal(t, 400.0, s.P50LatencyMs)

	assert.InDelta(t, 55.0, s.AvgTTFTMs, 0.001)
	assert.Equal(t, 50.0, s.P50TTFTMs)
}

func TestAnalyze_Empty(t *testing.T) {
	s := Analyze(nil)
	assert.Equal(t, 0, s.TotalRequests)
	assert.Equal(t, 0.0, s.RequestThroughput)
}

func TestAnalyze_AllErrors(t *testing.T) {
	records := []RequestRecord{
		{Timestamp: 100, RequestNum: 0, Error: true},
		{Timestamp: 100, RequestNum: 1, Error: true},
	}

	s := Analyze(records)
	assert.Equal(t, 2, s.TotalErrors)
	assert.Equal(t, 1.0, s.ErrorRate)
	assert.Equal(t, 0.0, s.AvgLatencyMs)
}

func TestAnalyze_SingleRecord(t *testing.T) {
	s := Analyze([]RequestRecord{
		{Timestamp: 100, RequestNum: 0, CompletionTokens: 20, LatencyMs: 500},
	})

	assert.InDelta(t, 0.5, s.DurationSeconds, 0.001)
	assert.InDelta(t, 2.0, s.RequestThroughput, 0.001)
	assert.Equal(t, 500.0, s.P99LatencyMs)
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	assert.Equal(t, 5.0, percentile(sorted, 50))
	assert.Equal(t, 9.0, percentile(sorted, 90))
	assert.Equal(t, 9.0, percentile(sorted, 99))
	assert.Equal(t, 1.0, percentile(sorted, 0))
	assert.Equal(t, 10.0, percentile(sorted, 100))
	assert.Equal(t, 0.0, percentile(nil, 50))
}
