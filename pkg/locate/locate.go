// Package locate picks the position reported back for a locate request.
package locate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	// HistorySize bounds how many recent fixes are kept.
	HistorySize = 5
	// MaxAge drops fixes older than this from consideration.
	MaxAge = 45 * time.Second
	// CheckDelay is how long a locate request waits before answering.
	CheckDelay = 6 * time.Second

	ageWeight      = 1.8
	accuracyWeight = 1.2
)

// Coordinates mirrors the browser geolocation reading. Optional readings are nil
// when the source does not report them.
type Coordinates struct {
	Accuracy         float64  `json:"accuracy"`
	Altitude         *float64 `json:"altitude"`
	AltitudeAccuracy *float64 `json:"altitudeAccuracy"`
	Heading          *float64 `json:"heading"`
	Latitude         float64  `json:"latitude"`
	Longitude        float64  `json:"longitude"`
	Speed            *float64 `json:"speed"`
}

// Position is one fix as sent to the backend.
type Position struct {
	Location  Coordinates `json:"location"`
	Timestamp int64       `json:"timestamp"`
}

// NewPosition stamps a fix taken at the given time.
func NewPosition(latitude, longitude, accuracy float64, at time.Time) Position {
	return Position{
		Location:  Coordinates{Latitude: latitude, Longitude: longitude, Accuracy: accuracy},
		Timestamp: at.UnixMilli(),
	}
}

// Age reports how old the fix is at now.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(p.Timestamp))
}

// Score combines age and accuracy; lower is better and age dominates.
func Score(p Position, now time.Time) float64 {
	ageSeconds := p.Age(now).Seconds()
	return (1 + ageSeconds) * ageWeight * (1 + p.Location.Accuracy) * accuracyWeight
}

// History keeps the most recent fixes. It is safe for concurrent use.
type History struct {
	mu        sync.Mutex
	positions []Position
}

func NewHistory() *History {
	return &History{}
}

// Add records a fix, evicting the oldest once HistorySize is exceeded.
func (h *History) Add(p Position) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.positions = append(h.positions, p)
	if len(h.positions) > HistorySize {
		h.positions = h.positions[len(h.positions)-HistorySize:]
	}
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.positions)
}

func (h *History) Snapshot() []Position {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Position, len(h.positions))
	copy(out, h.positions)
	return out
}

// Best returns the lowest scoring fix no older than MaxAge.
func (h *History) Best(now time.Time) (Position, bool) {
	var (
		best      Position
		bestScore float64
		found     bool
	)
	for _, p := range h.Snapshot() {
		if p.Age(now) > MaxAge {
			continue
		}
		score := Score(p, now)
		if !found || score < bestScore {
			best, bestScore, found = p, score, true
		}
	}

	return best, found
}

// Reply renders the user-facing title and backend payload for a chosen fix.
func Reply(intent string, p Position) (title string, payload string, err error) {
	encoded, err := json.Marshal(p)
	if err != nil {
		return "", "", fmt.Errorf("encode position: %w", err)
	}

	lat := formatCoord(p.Location.Latitude)
	lon := formatCoord(p.Location.Longitude)
	title = fmt.Sprintf("[My location](https://www.openstreetmap.org/?mlat=%s&mlon=%s#map=19/%s/%s)", lat, lon, lat, lon)

	return title, intent + string(encoded), nil
}

func formatCoord(v float64) string {
	encoded, _ := json.Marshal(v)
	return string(encoded)
}

// Source streams position fixes while a locate request is open.
type Source interface {
	// Watch starts reporting fixes until ctx is done. It must not block.
	Watch(ctx context.Context, report func(Position)) error
}

// StaticSource reports one configured fix each time a watch starts.
type StaticSource struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	Now       func() time.Time
}

func (s StaticSource) Watch(ctx context.Context, report func(Position)) error {
	if report == nil {
		return fmt.Errorf("report callback is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	report(NewPosition(s.Latitude, s.Longitude, s.Accuracy, now()))
	return nil
}
