// Package viewport maps zoom input and self fixes to camera hints. It owns no
// position truth; callers feed it fixes and gestures and read State.
package viewport

import (
	"math"
	"sync"

	"github.com/paulmach/orb"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/geosource"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/geo"
)

const (
	MinSpan = 0.004
	MaxSpan = 0.12
)

// DefaultRegion is the overview shown before any fix arrives.
var DefaultRegion = Region{Center: orb.Point{28.9784, 41.0082}, Span: 0.06}

type Region struct {
	Center orb.Point
	Span   float64
}

type State struct {
	Center orb.Point
	Span   float64
	Follow bool
}

// SpanForZoom interpolates z in [0,1] linearly from MaxSpan down to MinSpan.
// Out of range input is clamped.
func SpanForZoom(z float64) float64 {
	return MinSpan + (1-clamp01(z))*(MaxSpan-MinSpan)
}

// ZoomForSpan inverts SpanForZoom.
func ZoomForSpan(span float64) float64 {
	if !geo.Finite(span) {
		return 0
	}
	return clamp01(1 - (span-MinSpan)/(MaxSpan-MinSpan))
}

func clamp01(z float64) float64 {
	if math.IsNaN(z) || z < 0 {
		return 0
	}
	if z > 1 {
		return 1
	}
	return z
}

type Controller struct {
	mu       sync.RWMutex
	state    State
	fallback Region
	last     *orb.Point
}

// New starts at region with follow mode on.
func New(region Region) *Controller {
	if region.Span <= 0 {
		region = DefaultRegion
	}
	return &Controller{
		state:    State{Center: region.Center, Span: clampSpan(region.Span), Follow: true},
		fallback: region,
	}
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetZoom applies slider input. It does not change follow mode.
func (c *Controller) SetZoom(z float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Span = SpanForZoom(z)
}

// OnFix records the self position and recenters when following.
func (c *Controller) OnFix(fix geosource.Fix) {
	if !geo.ValidCoord(fix.Latitude, fix.Longitude) {
		return
	}
	p := orb.Point{fix.Longitude, fix.Latitude}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = &p
	if c.state.Follow {
		c.state.Center = p
	}
}

// Pan moves the center by the given degrees and disables follow mode.
func (c *Controller) Pan(dLat, dLng float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Follow = false
	lat := math.Max(-90, math.Min(90, c.state.Center.Lat()+dLat))
	lng := c.state.Center.Lon() + dLng
	for lng > 180 {
		lng -= 360
	}
	for lng < -180 {
		lng += 360
	}
	c.state.Center = orb.Point{lng, lat}
}

// Pinch scales the span by factor (>1 zooms in) and disables follow mode.
func (c *Controller) Pinch(factor float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Follow = false
	if !geo.Finite(factor) || factor <= 0 {
		return
	}
	c.state.Span = clampSpan(c.state.Span / factor)
}

// EnableFollow turns follow mode back on and jumps to the last self fix.
func (c *Controller) EnableFollow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Follow = true
	if c.last != nil {
		c.state.Center = *c.last
	}
}

// DisableFollow turns follow mode off without moving the camera.
func (c *Controller) DisableFollow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Follow = false
}

// FitDefault returns to the default region. Follow mode is left as is, so
// with follow on the next self fix recenters the camera again. Call
// DisableFollow first to keep the overview.
func (c *Controller) FitDefault() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Center = c.fallback.Center
	c.state.Span = clampSpan(c.fallback.Span)
}

// Bound is the visible rectangle, span degrees on each axis.
func (c *Controller) Bound() orb.Bound {
	s := c.State()
	half := s.Span / 2
	return orb.Bound{
		Min: orb.Point{s.Center.Lon() - half, s.Center.Lat() - half},
		Max: orb.Point{s.Center.Lon() + half, s.Center.Lat() + half},
	}
}

// Visible reports whether p is inside the current viewport.
func (c *Controller) Visible(p orb.Point) bool {
	return c.Bound().Contains(p)
}

func clampSpan(span float64) float64 {
	if !geo.Finite(span) {
		return MaxSpan
	}
	return math.Max(MinSpan, math.Min(MaxSpan, span))
}
