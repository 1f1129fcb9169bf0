// Package barengine folds raw ticks into 1-minute OHLCV bars with a
// running day-scoped VWAP, one mutex-guarded bucket per stock code.
package barengine

import (
	"sync"
	"time"

	"kis-trader/internal/domain"
)

const (
	barInterval   = time.Minute
	maxBarHistory = 60
)

type stockState struct {
	mu          sync.RWMutex
	current     *domain.Bar
	history     []domain.Bar // oldest first, capped at maxBarHistory
	vwap        domain.VWAPState
}

// Engine aggregates ticks into bars per stock code.
type Engine struct {
	mu     sync.RWMutex
	stocks map[string]*stockState
}

// New creates an empty bar engine.
func New() *Engine {
	return &Engine{stocks: make(map[string]*stockState)}
}

func (e *Engine) stateFor(code string) *stockState {
	e.mu.RLock()
	s, ok := e.stocks[code]
	e.mu.RUnlock()
	if ok {
		return s
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.stocks[code]; ok {
		return s
	}
	s = &stockState{}
	e.stocks[code] = s
	return s
}

func bucketStart(t time.Time) time.Time {
	return t.Truncate(barInterval)
}

// Ingest folds one tick into the bar engine, freezing the previous bar when
// the bucket boundary is crossed and updating the running VWAP.
func (e *Engine) Ingest(tick domain.Tick) {
	s := e.stateFor(tick.Code)
	s.mu.Lock()
	defer s.mu.Unlock()

	today := tick.Timestamp.Format("2006-01-02")
	if s.vwap.Date != today {
		s.vwap = domain.VWAPState{Code: tick.Code, Date: today}
	}
	if tick.Volume > 0 {
		s.vwap.CumPriceVolume += tick.Price * tick.Volume
		s.vwap.CumVolume += tick.Volume
		s.vwap.VWAP = s.vwap.CumPriceVolume / s.vwap.CumVolume
	} else if s.vwap.CumVolume == 0 {
		s.vwap.VWAP = tick.Price
	}
	s.vwap.LastUpdatedAt = tick.Timestamp

	bucket := bucketStart(tick.Timestamp)
	switch {
	case s.current == nil:
		s.current = newBar(tick.Code, bucket, tick)
	case !s.current.StartedAt.Equal(bucket):
		s.freeze()
		s.current = newBar(tick.Code, bucket, tick)
	default:
		if tick.Price > s.current.High {
			s.current.High = tick.Price
		}
		if tick.Price < s.current.Low {
			s.current.Low = tick.Price
		}
		s.current.Close = tick.Price
		s.current.Volume += tick.Volume
	}
}

func newBar(code string, bucket time.Time, tick domain.Tick) *domain.Bar {
	return &domain.Bar{
		Code:      code,
		StartedAt: bucket,
		Open:      tick.Price,
		High:      tick.Price,
		Low:       tick.Price,
		Close:     tick.Price,
		Volume:    tick.Volume,
	}
}

func (s *stockState) freeze() {
	if s.current == nil {
		return
	}
	s.history = append(s.history, *s.current)
	if len(s.history) > maxBarHistory {
		s.history = s.history[len(s.history)-maxBarHistory:]
	}
}

// ActiveCodes returns every code the engine has ever ingested a tick for,
// used by the bar-close ticker to know which codes to notify.
func (e *Engine) ActiveCodes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	codes := make([]string, 0, len(e.stocks))
	for code := range e.stocks {
		codes = append(codes, code)
	}
	return codes
}

// VWAP returns the current day-scoped VWAP for a code, or 0 if unseen.
func (e *Engine) VWAP(code string) float64 {
	s := e.stateFor(code)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vwap.VWAP
}

// CurrentPrice returns the in-progress bar's last close, or 0 if unseen.
func (e *Engine) CurrentPrice(code string) float64 {
	s := e.stateFor(code)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return 0
	}
	return s.current.Close
}

// RecentBars returns up to count most-recently-completed bars, oldest first.
func (e *Engine) RecentBars(code string, count int) []domain.Bar {
	s := e.stateFor(code)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if count > len(s.history) {
		count = len(s.history)
	}
	out := make([]domain.Bar, count)
	copy(out, s.history[len(s.history)-count:])
	return out
}

// VolumeInfo summarizes the current bar's volume against the trailing average.
type VolumeInfo struct {
	CurrentBarVolume float64
	Avg20BarVolume   float64
	Ratio            float64
}

// VolumeInfo computes the current bar's volume ratio against the trailing
// 20-bar average; a ratio of 0 means insufficient history.
func (e *Engine) VolumeInfo(code string) VolumeInfo {
	s := e.stateFor(code)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var current float64
	if s.current != nil {
		current = s.current.Volume
	}
	window := s.history
	if len(window) > 20 {
		window = window[len(window)-20:]
	}
	if len(window) == 0 {
		return VolumeInfo{CurrentBarVolume: current}
	}
	var sum float64
	for _, b := range window {
		sum += b.Volume
	}
	avg := sum / float64(len(window))
	ratio := 0.0
	if avg > 0 {
		ratio = current / avg
	}
	return VolumeInfo{CurrentBarVolume: current, Avg20BarVolume: avg, Ratio: ratio}
}
