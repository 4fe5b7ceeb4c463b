package geosource

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/geo"
)

const (
	highAccuracyM     = 5.0
	balancedAccuracyM = 50.0
)

// ReplayPlatform plays a fixed route back as if it were a device provider.
// The route is walked forward and back so a watch never runs dry.
type ReplayPlatform struct {
	route    []orb.Point
	interval time.Duration
	answers  map[Scope]PermissionAnswer
	now      func() time.Time

	mu   sync.Mutex
	pos  int
	dir  int
	last *Fix
}

// NewReplayPlatform builds a platform over route that emits one fix per
// interval. Every permission is granted unless overridden with SetPermission.
func NewReplayPlatform(route []orb.Point, interval time.Duration) *ReplayPlatform {
	if interval <= 0 {
		interval = time.Second
	}
	return &ReplayPlatform{
		route:    route,
		interval: interval,
		answers: map[Scope]PermissionAnswer{
			ScopeForeground: {Status: Granted, CanAskAgain: true},
			ScopeBackground: {Status: Granted, CanAskAgain: true},
		},
		now: time.Now,
		dir: 1,
	}
}

// SetPermission overrides the answer returned for scope.
func (r *ReplayPlatform) SetPermission(scope Scope, ans PermissionAnswer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers[scope] = ans
}

func (r *ReplayPlatform) RequestPermission(ctx context.Context, scope Scope) (PermissionAnswer, error) {
	if err := ctx.Err(); err != nil {
		return PermissionAnswer{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.answers[scope], nil
}

func (r *ReplayPlatform) LastKnownFix(ctx context.Context) (*Fix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil, nil
	}
	fix := *r.last
	return &fix, nil
}

func (r *ReplayPlatform) Watch(ctx context.Context, opts WatchOptions) (<-chan Fix, error) {
	if len(r.route) == 0 {
		return nil, fmt.Errorf("geosource: replay route is empty")
	}
	r.mu.Lock()
	ans := r.answers[ScopeForeground]
	r.mu.Unlock()
	if err := answerError(ScopeForeground, ans); err != nil {
		return nil, err
	}

	interval := r.interval
	if opts.MinInterval > interval {
		interval = opts.MinInterval
	}

	out := make(chan Fix)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fix, ok := r.next(opts, interval)
				if !ok {
					continue
				}
				select {
				case out <- fix:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *ReplayPlatform) next(opts WatchOptions, interval time.Duration) (Fix, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pt := r.route[r.pos]
	if len(r.route) > 1 {
		if r.pos+r.dir < 0 || r.pos+r.dir >= len(r.route) {
			r.dir = -r.dir
		}
		r.pos += r.dir
	}

	accuracy := highAccuracyM
	if opts.Accuracy == AccuracyBalanced {
		accuracy = balancedAccuracyM
	}
	fix := Fix{
		Latitude:  pt.Lat(),
		Longitude: pt.Lon(),
		Accuracy:  &accuracy,
		Timestamp: r.now().UnixMilli(),
	}

	if r.last != nil {
		moved := geo.HaversineM(r.last.Latitude, r.last.Longitude, fix.Latitude, fix.Longitude)
		if opts.MinDistanceM > 0 && moved < opts.MinDistanceM {
			return Fix{}, false
		}
		speed := moved / interval.Seconds()
		heading := geo.BearingDeg(r.last.Latitude, r.last.Longitude, fix.Latitude, fix.Longitude)
		fix.Speed = &speed
		fix.Heading = &heading
	}

	r.last = &fix
	return fix, true
}

// ParseRoute parses "lat,lng;lat,lng;..." into route points.
func ParseRoute(input string) ([]orb.Point, error) {
	var route []orb.Point
	for _, part := range strings.Split(input, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pt, err := ParseCoord(part)
		if err != nil {
			return nil, err
		}
		route = append(route, pt)
	}
	if len(route) == 0 {
		return nil, fmt.Errorf("geosource: empty route")
	}
	return route, nil
}

// ParseCoord parses a string like "41.0082,28.9784" into a point.
func ParseCoord(input string) (orb.Point, error) {
	parts := strings.Split(input, ",")
	if len(parts) != 2 {
		return orb.Point{}, fmt.Errorf("geosource: invalid coordinate: %s", input)
	}

	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil || !geo.ValidCoord(lat, lng) {
		return orb.Point{}, fmt.Errorf("geosource: invalid lat/lng: %s", input)
	}
	return orb.Point{lng, lat}, nil
}
