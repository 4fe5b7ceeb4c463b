package viewport

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/geosource"
)

func TestSpanForZoom(t *testing.T) {
	assert.InDelta(t, MaxSpan, SpanForZoom(0), 1e-12)
	assert.InDelta(t, MinSpan, SpanForZoom(1), 1e-12)
	assert.InDelta(t, (MinSpan+MaxSpan)/2, SpanForZoom(0.5), 1e-12)

	assert.InDelta(t, MaxSpan, SpanForZoom(-3), 1e-12)
	assert.InDelta(t, MinSpan, SpanForZoom(7), 1e-12)
	assert.InDelta(t, MaxSpan, SpanForZoom(math.NaN()), 1e-12)
}

func TestZoomForSpanInverts(t *testing.T) {
	for _, z := range []float64{0, 0.25, 0.5, 0.9, 1} {
		assert.InDelta(t, z, ZoomForSpan(SpanForZoom(z)), 1e-9)
	}
	assert.Equal(t, 0.0, ZoomForSpan(math.Inf(1)))
}

func TestFollowRecentersOnFix(t *testing.T) {
	c := New(DefaultRegion)
	assert.True(t, c.State().Follow)

	c.OnFix(geosource.Fix{Latitude: 39.9, Longitude: 32.85})
	assert.Equal(t, orb.Point{32.85, 39.9}, c.State().Center)

	c.OnFix(geosource.Fix{Latitude: math.NaN(), Longitude: 32.85})
	assert.Equal(t, orb.Point{32.85, 39.9}, c.State().Center)
}

func TestGesturesDisableFollow(t *testing.T) {
	c := New(DefaultRegion)
	c.OnFix(geosource.Fix{Latitude: 41, Longitude: 29})

	c.Pan(0.01, -0.02)
	st := c.State()
	assert.False(t, st.Follow)
	assert.InDelta(t, 41.01, st.Center.Lat(), 1e-9)
	assert.InDelta(t, 28.98, st.Center.Lon(), 1e-9)

	c.OnFix(geosource.Fix{Latitude: 40, Longitude: 30})
	assert.InDelta(t, 41.01, c.State().Center.Lat(), 1e-9)

	c.EnableFollow()
	assert.True(t, c.State().Follow)
	assert.Equal(t, orb.Point{30, 40}, c.State().Center)

	c.Pinch(2)
	assert.False(t, c.State().Follow)
}

func TestSetZoomKeepsFollow(t *testing.T) {
	c := New(DefaultRegion)
	c.SetZoom(1)
	assert.True(t, c.State().Follow)
	assert.InDelta(t, MinSpan, c.State().Span, 1e-12)
}

func TestPinchClampsSpan(t *testing.T) {
	c := New(Region{Center: orb.Point{0, 0}, Span: MaxSpan})
	c.Pinch(1000)
	assert.InDelta(t, MinSpan, c.State().Span, 1e-12)
	c.Pinch(0.0001)
	assert.InDelta(t, MaxSpan, c.State().Span, 1e-12)
	c.Pinch(-1)
	assert.InDelta(t, MaxSpan, c.State().Span, 1e-12)
}

func TestFitDefaultLeavesFollowOff(t *testing.T) {
	c := New(DefaultRegion)
	c.OnFix(geosource.Fix{Latitude: 37, Longitude: 27})
	c.Pan(1, 1)
	c.SetZoom(1)

	c.FitDefault()
	st := c.State()
	assert.False(t, st.Follow)
	assert.Equal(t, DefaultRegion.Center, st.Center)
	assert.InDelta(t, DefaultRegion.Span, st.Span, 1e-12)
}

func TestFitDefaultWithFollowOnRecentersOnNextFix(t *testing.T) {
	c := New(DefaultRegion)
	c.OnFix(geosource.Fix{Latitude: 37, Longitude: 27})
	c.SetZoom(1)

	c.FitDefault()
	st := c.State()
	assert.True(t, st.Follow)
	assert.Equal(t, DefaultRegion.Center, st.Center)
	assert.InDelta(t, DefaultRegion.Span, st.Span, 1e-12)

	c.OnFix(geosource.Fix{Latitude: 38, Longitude: 26})
	st = c.State()
	assert.True(t, st.Follow)
	assert.Equal(t, orb.Point{26, 38}, st.Center)
	assert.InDelta(t, DefaultRegion.Span, st.Span, 1e-12)
}

func TestPanWrapsLongitude(t *testing.T) {
	c := New(Region{Center: orb.Point{179.9, 89.95}, Span: 0.1})
	c.Pan(1, 0.2)
	st := c.State()
	assert.InDelta(t, 90, st.Center.Lat(), 1e-9)
	assert.InDelta(t, -179.9, st.Center.Lon(), 1e-9)
}

func TestBoundAndVisible(t *testing.T) {
	c := New(Region{Center: orb.Point{29, 41}, Span: 0.1})
	b := c.Bound()
	assert.InDelta(t, 28.95, b.Min.Lon(), 1e-9)
	assert.InDelta(t, 41.05, b.Max.Lat(), 1e-9)
	assert.True(t, c.Visible(orb.Point{29.01, 41.01}))
	assert.False(t, c.Visible(orb.Point{30, 41}))
}

func TestNewFallsBackToDefaultRegion(t *testing.T) {
	c := New(Region{})
	assert.Equal(t, DefaultRegion.Center, c.State().Center)
}
