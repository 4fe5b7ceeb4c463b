// Package trajectory maintains the bounded path of the current tracking
// session with its cumulative great-circle distance and latest kinematics.
//
// No smoothing is applied: speed and heading are taken from the platform fix
// as delivered.
package trajectory

import (
	"errors"
	"math"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/geosource"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/geo"
)

// MaxPoints is the default number of retained path points.
const MaxPoints = 5000

// ErrSampleRejected is returned for fixes with non-finite or out-of-range
// coordinates. Rejected fixes never reach the path or the distance.
var ErrSampleRejected = errors.New("trajectory: sample rejected")

// Snapshot is a read-only copy of the engine state.
type Snapshot struct {
	Points    []orb.Point
	DistanceM float64
	SpeedKmh  float64
	Heading   *float64
	Last      *geosource.Fix
	Rejected  uint64
}

// Engine is mutated only from the fix-arrival path; readers take snapshots.
type Engine struct {
	mu       sync.RWMutex
	capacity int
	ring     []orb.Point
	head     int
	size     int

	distance float64
	speedKmh float64
	heading  *float64
	last     *geosource.Fix
	rejected uint64
}

// New returns an engine retaining up to capacity points (MaxPoints if <= 0).
func New(capacity int) *Engine {
	if capacity <= 0 {
		capacity = MaxPoints
	}
	return &Engine{
		capacity: capacity,
		ring:     make([]orb.Point, capacity),
	}
}

// Add folds a fix into the path. The distance to the previous retained point
// is added to the cumulative distance before the point is appended; the
// oldest point is evicted once capacity is reached.
func (e *Engine) Add(fix geosource.Fix) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !geo.ValidCoord(fix.Latitude, fix.Longitude) {
		e.rejected++
		return ErrSampleRejected
	}

	pt := orb.Point{fix.Longitude, fix.Latitude}
	if e.size > 0 {
		prev := e.ring[(e.head+e.size-1)%e.capacity]
		if d := geo.HaversineM(prev.Lat(), prev.Lon(), pt.Lat(), pt.Lon()); geo.Finite(d) && d > 0 {
			e.distance += d
		}
	}

	if e.size < e.capacity {
		e.ring[(e.head+e.size)%e.capacity] = pt
		e.size++
	} else {
		e.ring[e.head] = pt
		e.head = (e.head + 1) % e.capacity
	}

	e.speedKmh = 0
	if fix.Speed != nil && geo.Finite(*fix.Speed) {
		e.speedKmh = math.Max(0, *fix.Speed*3.6)
	}
	e.heading = nil
	if fix.Heading != nil && geo.Finite(*fix.Heading) {
		h := *fix.Heading
		e.heading = &h
	}
	stored := fix
	e.last = &stored
	return nil
}

// Len returns the number of retained points.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.size
}

// DistanceM returns the cumulative distance in meters.
func (e *Engine) DistanceM() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.distance
}

// Points returns the retained path, oldest first.
func (e *Engine) Points() []orb.Point {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pointsLocked()
}

func (e *Engine) pointsLocked() []orb.Point {
	out := make([]orb.Point, e.size)
	for i := 0; i < e.size; i++ {
		out[i] = e.ring[(e.head+i)%e.capacity]
	}
	return out
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := Snapshot{
		Points:    e.pointsLocked(),
		DistanceM: e.distance,
		SpeedKmh:  e.speedKmh,
		Rejected:  e.rejected,
	}
	if e.heading != nil {
		h := *e.heading
		snap.Heading = &h
	}
	if e.last != nil {
		last := *e.last
		snap.Last = &last
	}
	return snap
}

// Reset clears the path and the counters for a new session.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.head, e.size = 0, 0
	e.distance, e.speedKmh = 0, 0
	e.heading, e.last = nil, nil
	e.rejected = 0
}

// GeoJSON renders the retained path as a LineString feature.
func (e *Engine) GeoJSON() ([]byte, error) {
	snap := e.Snapshot()
	feature := geojson.NewFeature(orb.LineString(snap.Points))
	feature.Properties["distance_m"] = snap.DistanceM
	feature.Properties["points"] = len(snap.Points)
	return feature.MarshalJSON()
}
