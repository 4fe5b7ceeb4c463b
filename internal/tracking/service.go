package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/db"
	applog "github.com/akbasozcan3/isci-takip-app-sub002/internal/log"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/geo"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/wire"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

var ErrInvalidSample = errors.New("tracking: invalid sample")

// Broadcaster relays an event to a group room.
type Broadcaster interface {
	Publish(groupID, event string, payload any) error
}

type Service struct {
	db     db.Querier
	rooms  Broadcaster
	logger *slog.Logger
}

func NewService(q db.Querier, rooms Broadcaster, logger *slog.Logger) *Service {
	return &Service{db: q, rooms: rooms, logger: applog.Component(logger, "tracking")}
}

// Validate checks owner, timestamp and coordinate ranges.
func Validate(s wire.Sample) error {
	switch {
	case s.OwnerID == "":
		return fmt.Errorf("%w: ownerId required", ErrInvalidSample)
	case s.Timestamp <= 0:
		return fmt.Errorf("%w: timestamp required", ErrInvalidSample)
	case !geo.ValidCoord(s.Coords.Lat, s.Coords.Lng):
		return fmt.Errorf("%w: coordinates out of range", ErrInvalidSample)
	}
	for _, v := range []*float64{s.Coords.Accuracy, s.Coords.Heading, s.Coords.Speed} {
		if v != nil && !geo.Finite(*v) {
			return fmt.Errorf("%w: non-finite optional field", ErrInvalidSample)
		}
	}
	return nil
}

// Record stores a sample and relays it to every group the owner is an
// approved member of.
func (s *Service) Record(ctx context.Context, in wire.Sample) (Sample, error) {
	if err := Validate(in); err != nil {
		return Sample{}, err
	}

	out := Sample{
		ID:        uuid.NewString(),
		OwnerID:   in.OwnerID,
		Timestamp: in.Timestamp,
		Coords:    in.Coords,
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO location_samples (id, owner_id, lat, lng, accuracy, heading, speed, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`, out.ID, out.OwnerID, in.Coords.Lat, in.Coords.Lng, in.Coords.Accuracy, in.Coords.Heading, in.Coords.Speed, in.Timestamp)
	if err := row.Scan(&out.CreatedAt); err != nil {
		return Sample{}, err
	}

	s.fanOut(ctx, out)
	return out, nil
}

func (s *Service) fanOut(ctx context.Context, sample Sample) {
	if s.rooms == nil {
		return
	}
	rows, err := s.db.Query(ctx, `
		SELECT group_id FROM group_members
		WHERE user_id=$1 AND status='approved'
	`, sample.OwnerID)
	if err != nil {
		s.logger.Warn("member groups lookup failed", "owner", sample.OwnerID, "err", err)
		return
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			s.logger.Warn("member groups scan failed", "err", err)
			return
		}
		groups = append(groups, id)
	}

	for _, groupID := range groups {
		upd := wire.LocationUpdate{
			OwnerID:   sample.OwnerID,
			GroupID:   groupID,
			Lat:       sample.Coords.Lat,
			Lng:       sample.Coords.Lng,
			Heading:   sample.Coords.Heading,
			Accuracy:  sample.Coords.Accuracy,
			Timestamp: sample.Timestamp,
		}
		if err := s.rooms.Publish(groupID, wire.EventLocationUpdate, upd); err != nil {
			s.logger.Warn("room publish failed", "group", groupID, "err", err)
		}
	}
}

// Recent returns an owner's samples, newest first.
func (s *Service) Recent(ctx context.Context, ownerID string, limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, owner_id, lat, lng, accuracy, heading, speed, recorded_at, created_at
		FROM location_samples WHERE owner_id=$1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := []Sample{}
	for rows.Next() {
		var p Sample
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Coords.Lat, &p.Coords.Lng, &p.Coords.Accuracy, &p.Coords.Heading, &p.Coords.Speed, &p.Timestamp, &p.CreatedAt); err != nil {
			return nil, err
		}
		samples = append(samples, p)
	}
	return samples, rows.Err()
}

// Summary walks the owner's recent samples in time order.
func (s *Service) Summary(ctx context.Context, ownerID string, limit int) (Summary, error) {
	samples, err := s.Recent(ctx, ownerID, limit)
	if err != nil {
		return Summary{}, err
	}
	return summarize(ownerID, samples), nil
}

func summarize(ownerID string, samples []Sample) Summary {
	sum := Summary{OwnerID: ownerID, PointCount: len(samples)}
	if len(samples) < 2 {
		return sum
	}
	ordered := append([]Sample(nil), samples...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Timestamp < ordered[j].Timestamp })

	for i := 1; i < len(ordered); i++ {
		a, b := ordered[i-1].Coords, ordered[i].Coords
		sum.DistanceM += geo.HaversineM(a.Lat, a.Lng, b.Lat, b.Lng)
	}
	durationMs := ordered[len(ordered)-1].Timestamp - ordered[0].Timestamp
	sum.DurationSec = durationMs / 1000
	if durationMs > 0 {
		sum.AverageSpeedMps = sum.DistanceM / (float64(durationMs) / 1000)
	}
	return sum
}

// SharesGroup reports whether both users are approved members of one group.
func (s *Service) SharesGroup(ctx context.Context, userID, otherID string) (bool, error) {
	var shared bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM group_members a
			JOIN group_members b ON a.group_id = b.group_id
			WHERE a.user_id=$1 AND b.user_id=$2
			  AND a.status='approved' AND b.status='approved'
		)
	`, userID, otherID).Scan(&shared)
	return shared, err
}
