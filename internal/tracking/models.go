package tracking

import (
	"time"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/wire"
)

// Sample is a stored location sample.
type Sample struct {
	ID        string      `json:"id"`
	OwnerID   string      `json:"ownerId"`
	Timestamp int64       `json:"timestamp"`
	Coords    wire.Coords `json:"coords"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Summary aggregates an owner's most recent samples.
type Summary struct {
	OwnerID         string  `json:"ownerId"`
	PointCount      int     `json:"pointCount"`
	DistanceM       float64 `json:"distanceM"`
	DurationSec     int64   `json:"durationSec"`
	AverageSpeedMps float64 `json:"averageSpeedMps"`
}
