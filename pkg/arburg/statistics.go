// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package arburg

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Statistics tracks exchange outcomes and error rates
type Statistics struct {
	mu sync.Mutex

	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalExchanges   uint64
	ValidExchanges   uint64
	Timeouts         uint64
	ChecksumErrors   uint64
	FramingErrors    uint64
	TransportErrors  uint64 // any other transport failure
	ValidationErrors uint64

	// Rates (calculated)
	ExchangeRate float64 // exchanges/sec
	ErrorRate    float64 // errors/sec
}

// StatisticsSnapshot is a copy of the counters safe to hand to other goroutines
type StatisticsSnapshot struct {
	StartTime        time.Time
	LastUpdateTime   time.Time
	TotalExchanges   uint64
	ValidExchanges   uint64
	Timeouts         uint64
	ChecksumErrors   uint64
	FramingErrors    uint64
	TransportErrors  uint64
	ValidationErrors uint64
	ExchangeRate     float64
	ErrorRate        float64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records the outcome of one exchange: the transport error, or the
// status decode error when the transport succeeded.
func (s *Statistics) Update(transportErr, decodeErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TotalExchanges++
	s.LastUpdateTime = time.Now()

	if transportErr != nil {
		switch {
		case errors.Is(transportErr, ErrTimeout):
			s.Timeouts++
		case errors.Is(transportErr, ErrChecksumMismatch):
			s.ChecksumErrors++
		case errors.Is(transportErr, ErrFraming):
			s.FramingErrors++
		default:
			s.TransportErrors++
		}
		return
	}

	if decodeErr != nil {
		s.ValidationErrors++
		return
	}

	s.ValidExchanges++
}

func (s *Statistics) errorCount() uint64 {
	return s.Timeouts + s.ChecksumErrors + s.FramingErrors + s.TransportErrors + s.ValidationErrors
}

// calculateRates must be called with mu held
func (s *Statistics) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.ExchangeRate = float64(s.TotalExchanges) / elapsed
		s.ErrorRate = float64(s.errorCount()) / elapsed
	}
}

// Snapshot returns a consistent copy of the counters with fresh rates
func (s *Statistics) Snapshot() StatisticsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calculateRates()
	return StatisticsSnapshot{
		StartTime:        s.StartTime,
		LastUpdateTime:   s.LastUpdateTime,
		TotalExchanges:   s.TotalExchanges,
		ValidExchanges:   s.ValidExchanges,
		Timeouts:         s.Timeouts,
		ChecksumErrors:   s.ChecksumErrors,
		FramingErrors:    s.FramingErrors,
		TransportErrors:  s.TransportErrors,
		ValidationErrors: s.ValidationErrors,
		ExchangeRate:     s.ExchangeRate,
		ErrorRate:        s.ErrorRate,
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	return s.Snapshot().String()
}

func (s StatisticsSnapshot) String() string {
	percent := func(n uint64) float64 {
		if s.TotalExchanges == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalExchanges)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Exchanges: %8d\n", s.TotalExchanges)
	result += fmt.Sprintf("Valid Exchanges: %8d (%.1f%%)\n", s.ValidExchanges, percent(s.ValidExchanges))

	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d (%.1f%%)\n", s.Timeouts, percent(s.Timeouts))
	}
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("BCC Errors:      %8d (%.1f%%)\n", s.ChecksumErrors, percent(s.ChecksumErrors))
	}
	if s.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d (%.1f%%)\n", s.FramingErrors, percent(s.FramingErrors))
	}
	if s.TransportErrors > 0 {
		result += fmt.Sprintf("Other Transport: %8d (%.1f%%)\n", s.TransportErrors, percent(s.TransportErrors))
	}
	if s.ValidationErrors > 0 {
		result += fmt.Sprintf("Invalid Status:  %8d (%.1f%%)\n", s.ValidationErrors, percent(s.ValidationErrors))
	}

	result += fmt.Sprintf("Exchange Rate:   %8.2f exch/sec\n", s.ExchangeRate)
	result += fmt.Sprintf("Error Rate:      %8.2f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.TotalExchanges = 0
	s.ValidExchanges = 0
	s.Timeouts = 0
	s.ChecksumErrors = 0
	s.FramingErrors = 0
	s.TransportErrors = 0
	s.ValidationErrors = 0
	s.ExchangeRate = 0
	s.ErrorRate = 0
}
