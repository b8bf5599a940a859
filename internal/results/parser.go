package results

import (
	"bufio"
	"encoding/json"
	"os"
	"sort"
)

// TrialSummary holds the aggregate metrics of one load-generation trial.
type TrialSummary struct {
	TotalRequests int     `json:"total_requests"`
	TotalErrors   int     `json:"total_errors"`
	TotalTokens   int     `json:"total_tokens"`
	ErrorRate     float64 `json:"error_rate"`

	DurationSeconds   float64 `json:"duration_seconds"`
	RequestThroughput float64 `json:"request_throughput"` // completed requests per second
	OutputThroughput  float64 `json:"output_throughput"`  // completion tokens per second

	// Latency metrics (in milliseconds)
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MinLatencyMs float64 `json:"min_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`
	P50LatencyMs float64 `json:"p50_latency_ms"`
	P90LatencyMs float64 `json:"p90_latency_ms"`
	P99LatencyMs float64 `json:"p99_latency_ms"`

	// Time to first token
	AvgTTFTMs float64 `json:"avg_ttft_ms"`
	P50TTFTMs float64 `json:"p50_ttft_ms"`
	P90TTFTMs float64 `json:"p90_ttft_ms"`
	P99TTFTMs float64 `json:"p99_ttft_ms"`
}

// ParseJSONL parses a JSON-lines file of request records.
// Malformed lines are skipped so a partially written file from a failed
// trial still yields its usable records.
func ParseJSONL(path string) ([]RequestRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []RequestRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var r RequestRecord
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue // Skip malformed lines
		}
		records = append(records, r)
	}
	return records, scanner.Err()
}

// Analyze computes aggregate metrics from request records.
func Analyze(records []RequestRecord) TrialSummary {
	if len(records) == 0 {
		return TrialSummary{}
	}

	var totalTokens, totalErrors int
	var latencies, ttfts []float64

	for _, r := range records {
		if r.Error {
			totalErrors++
			continue
		}
		totalTokens += r.CompletionTokens
		if r.LatencyMs > 0 {
			latencies = append(latencies, r.LatencyMs)
		}
		if r.TTFTMs > 0 {
			ttfts = append(ttfts, r.TTFTMs)
		}
	}

	// Wall-clock span from first request start to last request start plus
	// its latency; single-record trials fall back to that record's latency.
	var durationSeconds float64
	first, last := records[0], records[len(records)-1]
	durationSeconds = float64(last.Timestamp-first.Timestamp) + last.LatencyMs/1000
	if durationSeconds <= 0 {
		durationSeconds = first.LatencyMs / 1000
	}

	s := TrialSummary{
		TotalRequests:   len(records),
		TotalErrors:     totalErrors,
		TotalTokens:     totalTokens,
		ErrorRate:       float64(totalErrors) / float64(len(records)),
		DurationSeconds: durationSeconds,
	}

	if durationSeconds > 0 {
		s.RequestThroughput = float64(len(records)-totalErrors) / durationSeconds
		s.OutputThroughput = float64(totalTokens) / durationSeconds
	}

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		s.MinLatencyMs = latencies[0]
		s.MaxLatencyMs = latencies[len(latencies)-1]
		s.P50LatencyMs = percentile(latencies, 50)
		s.P90LatencyMs = percentile(latencies, 90)
		s.P99LatencyMs = percentile(latencies, 99)

		var sum float64
		for _, v := range latencies {
			sum += v
		}
		s.AvgLatencyMs = sum / float64(len(latencies))
	}

	if len(ttfts) > 0 {
		sort.Float64s(ttfts)
		s.P50TTFTMs = percentile(ttfts, 50)
		s.P90TTFTMs = percentile(ttfts, 90)
		s.P99TTFTMs = percentile(ttfts, 99)

		var sum float64
		for _, v := range ttfts {
			sum += v
		}
		s.AvgTTFTMs = sum / float64(len(ttfts))
	}

	return s
}

// percentile calculates the p-th percentile of a sorted slice.
func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}
