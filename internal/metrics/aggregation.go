package metrics

import (
	"sort"
)

// Stats summarizes a set of metrics.
type Stats struct {
	Count        int `json:"count"`
	SuccessCount int `json:"success_count"`
	ErrorCount   int `json:"error_count"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// Latency in seconds
	LatencyAvg float64 `json:"latency_avg"`
	LatencyP50 float64 `json:"latency_p50"`
	LatencyP95 float64 `json:"latency_p95"`
	LatencyMax float64 `json:"latency_max"`
}

// Usage is the per-document breakdown served by the usage endpoint.
type Usage struct {
	DocumentID string           `json:"document_id"`
	Total      Stats            `json:"total"`
	ByStage    map[string]Stats `json:"by_stage"`
	ByProvider map[string]Stats `json:"by_provider"`
}

// Summarize computes stats over metrics.
func Summarize(metrics []Metric) Stats {
	stats := Stats{Count: len(metrics)}
	if len(metrics) == 0 {
		return stats
	}

	latencies := make([]float64, 0, len(metrics))
	for _, m := range metrics {
		if m.Success {
			stats.SuccessCount++
		} else {
			stats.ErrorCount++
		}
		stats.PromptTokens += m.PromptTokens
		stats.CompletionTokens += m.CompletionTokens
		stats.TotalTokens += m.TotalTokens
		latencies = append(latencies, m.ExecutionSeconds)
	}

	sort.Float64s(latencies)
	var sum float64
	for _, l := range latencies {
		sum += l
	}
	stats.LatencyAvg = sum / float64(len(latencies))
	stats.LatencyP50 = percentile(latencies, 50)
	stats.LatencyP95 = percentile(latencies, 95)
	stats.LatencyMax = latencies[len(latencies)-1]
	return stats
}

// Usage groups a document's metrics by stage and by provider.
func (r *Recorder) Usage(documentID string) Usage {
	metrics := r.List(documentID)
	u := Usage{
		DocumentID: documentID,
		Total:      Summarize(metrics),
		ByStage:    make(map[string]Stats),
		ByProvider: make(map[string]Stats),
	}

	byStage := make(map[string][]Metric)
	byProvider := make(map[string][]Metric)
	for _, m := range metrics {
		byStage[m.Stage] = append(byStage[m.Stage], m)
		byProvider[m.Provider] = append(byProvider[m.Provider], m)
	}
	for k, ms := range byStage {
		u.ByStage[k] = Summarize(ms)
	}
	for k, ms := range byProvider {
		u.ByProvider[k] = Summarize(ms)
	}
	return u
}

// percentile calculates the p-th percentile from a sorted slice of values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	idx := (p / 100.0) * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	// Linear interpolation
	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
