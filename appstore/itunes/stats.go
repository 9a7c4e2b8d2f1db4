package itunes

import "sync/atomic"

// Stats tracks request counters across the client's lifetime.
type Stats struct {
	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64
	recordsFetched     atomic.Int64
	entriesSkipped     atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the request counters.
type StatsSnapshot struct {
	TotalRequests      int64 `json:"total_requests"`
	SuccessfulRequests int64 `json:"successful_requests"`
	FailedRequests     int64 `json:"failed_requests"`
	RecordsFetched     int64 `json:"records_fetched"`
	EntriesSkipped     int64 `json:"entries_skipped"`
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalRequests:      c.stats.totalRequests.Load(),
		SuccessfulRequests: c.stats.successfulRequests.Load(),
		FailedRequests:     c.stats.failedRequests.Load(),
		RecordsFetched:     c.stats.recordsFetched.Load(),
		EntriesSkipped:     c.stats.entriesSkipped.Load(),
	}
}
