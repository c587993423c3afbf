package upload

import (
	"time"
)

// Stats tracks chunk timings of one session for progress logging.
type Stats struct {
	sum            time.Duration
	bytes          int64
	finishedChunks int
	rateLimitWaits int
}

// Update records an accepted chunk.
func (s *Stats) Update(size int64, d time.Duration) {
	s.sum += d
	s.bytes += size
	s.finishedChunks++
}

// RateLimited records a rate limit wait.
func (s *Stats) RateLimited() {
	s.rateLimitWaits++
}

// Average returns the average duration of accepted chunks.
func (s *Stats) Average() time.Duration {
	if s.finishedChunks == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finishedChunks)
}

// Throughput returns the transfer rate in bytes per second.
func (s *Stats) Throughput() float64 {
	if s.sum <= 0 {
		return 0
	}
	return float64(s.bytes) / s.sum.Seconds()
}

// FinishedCount returns the number of accepted chunks.
func (s *Stats) FinishedCount() int {
	return s.finishedChunks
}

// Bytes returns the number of bytes accepted by the server in this session.
func (s *Stats) Bytes() int64 {
	return s.bytes
}

// RateLimitWaits returns the number of rate limit waits.
func (s *Stats) RateLimitWaits() int {
	return s.rateLimitWaits
}
