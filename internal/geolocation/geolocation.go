// Package geolocation provides best-effort device positions for visit
// transitions. A position is never a hard requirement: callers fall back to
// the Sentinel position when none is available.
package geolocation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// Geolocation errors.
var (
	ErrUnavailable        = errors.New("position unavailable")
	ErrStale              = errors.New("position is stale")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

// DefaultTimeout bounds a single position lookup.
const DefaultTimeout = 10 * time.Second

// Position is a WGS84 coordinate pair.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Sentinel is recorded when no position could be obtained.
var Sentinel = Position{}

// IsSentinel reports whether p is the sentinel position.
func (p Position) IsSentinel() bool {
	return p == Sentinel
}

// Validate checks the coordinate ranges.
func (p Position) Validate() error {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return ErrInvalidCoordinates
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrInvalidCoordinates, p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrInvalidCoordinates, p.Longitude)
	}
	return nil
}

// Provider returns the device's current position.
type Provider interface {
	CurrentPosition(ctx context.Context) (Position, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (Position, error)

// CurrentPosition calls f.
func (f ProviderFunc) CurrentPosition(ctx context.Context) (Position, error) {
	return f(ctx)
}

// Static always returns the same position.
type Static struct {
	pos Position
}

// NewStatic creates a provider fixed at pos.
func NewStatic(pos Position) *Static {
	return &Static{pos: pos}
}

// CurrentPosition returns the fixed position.
func (s *Static) CurrentPosition(context.Context) (Position, error) {
	return s.pos, nil
}

// Reported holds the last position pushed by the device. Positions older
// than MaxAge are treated as unavailable.
type Reported struct {
	maxAge time.Duration
	now    func() time.Time

	mu         sync.RWMutex
	pos        Position
	reportedAt time.Time
}

// NewReported creates an empty reported-position provider.
// A zero maxAge disables staleness checks.
func NewReported(maxAge time.Duration) *Reported {
	return &Reported{maxAge: maxAge, now: time.Now}
}

// Report records the device's latest position.
func (r *Reported) Report(pos Position) error {
	if err := pos.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = pos
	r.reportedAt = r.now()
	return nil
}

// CurrentPosition returns the last reported position.
func (r *Reported) CurrentPosition(context.Context) (Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.reportedAt.IsZero() {
		return Sentinel, ErrUnavailable
	}
	if r.maxAge > 0 && r.now().Sub(r.reportedAt) > r.maxAge {
		return Sentinel, ErrStale
	}
	return r.pos, nil
}

// Locate makes exactly one attempt to read p, giving up after timeout.
// On any failure it returns Sentinel with the error.
func Locate(ctx context.Context, p Provider, timeout time.Duration) (Position, error) {
	if p == nil {
		return Sentinel, ErrUnavailable
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		pos Position
		err error
	}
	ch := make(chan result, 1)
	go func() {
		pos, err := p.CurrentPosition(ctx)
		ch <- result{pos: pos, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return Sentinel, r.err
		}
		if err := r.pos.Validate(); err != nil {
			return Sentinel, err
		}
		return r.pos, nil
	case <-ctx.Done():
		return Sentinel, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Position) float64 {
	const earthRadius = 6371000 // meters

	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return earthRadius * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// WithinRadius reports whether b lies within radius meters of a.
func WithinRadius(a, b Position, radius float64) bool {
	return Distance(a, b) <= radius
}
