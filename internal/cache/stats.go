package cache

// Stats holds the cache's running counters. Rates are derived on read
// and never stored.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Evictions     uint64 `json:"evictions"`
	TotalRequests uint64 `json:"total_requests"`

	TTLHits     uint64 `json:"ttl_hits"`
	TTLMisses   uint64 `json:"ttl_misses"`
	Expirations uint64 `json:"expirations"`

	WriteThroughFailures uint64 `json:"write_through_failures"`
	ReadThroughFailures  uint64 `json:"read_through_failures"`

	Entries     int   `json:"entries"`
	MemoryBytes int64 `json:"memory_bytes"`
}

// HitRate returns hits as a fraction of total requests.
func (s Stats) HitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.TotalRequests)
}

// MissRate returns misses as a fraction of total requests.
func (s Stats) MissRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Misses) / float64(s.TotalRequests)
}

// TTLHitRate returns TTL-bearing hits as a fraction of all TTL-bearing
// lookups.
func (s Stats) TTLHitRate() float64 {
	total := s.TTLHits + s.TTLMisses
	if total == 0 {
		return 0
	}
	return float64(s.TTLHits) / float64(total)
}

// ExpirationRate returns expirations as a fraction of total requests.
func (s Stats) ExpirationRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Expirations) / float64(s.TotalRequests)
}
