package group

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/db"
	applog "github.com/akbasozcan3/isci-takip-app-sub002/internal/log"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/wire"
)

var (
	ErrNotFound    = errors.New("group: not found")
	ErrForbidden   = errors.New("group: forbidden")
	ErrInvalidName = errors.New("group: name required")
)

const foreignKeyViolation = "23503"

// Broadcaster relays an event to a group room.
type Broadcaster interface {
	Publish(groupID, event string, payload any) error
}

// OnlineSource reports which users hold a live socket in a room.
type OnlineSource interface {
	Online(groupID string) map[string]bool
}

type Options struct {
	Rooms  Broadcaster
	Online OnlineSource
	// OnlineWindow is how recent a sample must be for its owner to count as online.
	OnlineWindow time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

type Service struct {
	db     db.Querier
	opts   Options
	logger *slog.Logger
}

func NewService(q db.Querier, opts Options) *Service {
	if opts.OnlineWindow <= 0 {
		opts.OnlineWindow = 2 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{db: q, opts: opts, logger: applog.Component(opts.Logger, "group")}
}

// Create stores a group; the creator becomes its approved admin.
func (s *Service) Create(ctx context.Context, name, creatorID string) (Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, ErrInvalidName
	}
	g := Group{ID: uuid.NewString(), Name: name, CreatedBy: creatorID}
	row := s.db.QueryRow(ctx, `
		INSERT INTO groups (id, name, created_by)
		VALUES ($1,$2,$3)
		RETURNING created_at
	`, g.ID, g.Name, g.CreatedBy)
	if err := row.Scan(&g.CreatedAt); err != nil {
		return Group{}, err
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id, role, status)
		VALUES ($1,$2,$3,$4)
	`, g.ID, creatorID, RoleAdmin, StatusApproved)
	if err != nil {
		return Group{}, err
	}
	return g, nil
}

func (s *Service) Get(ctx context.Context, id string) (Group, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, created_by, created_at
		FROM groups WHERE id=$1
	`, id)
	var g Group
	if err := row.Scan(&g.ID, &g.Name, &g.CreatedBy, &g.CreatedAt); err != nil {
		return Group{}, notFound(err)
	}
	return g, nil
}

// RequestJoin files a pending membership. Existing memberships keep their
// status.
func (s *Service) RequestJoin(ctx context.Context, groupID, userID string) (Member, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO group_members (group_id, user_id, role, status)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (group_id, user_id) DO UPDATE SET status=group_members.status
		RETURNING role, status, created_at
	`, groupID, userID, RoleMember, StatusPending)
	m := Member{GroupID: groupID, UserID: userID}
	if err := row.Scan(&m.Role, &m.Status, &m.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return Member{}, ErrNotFound
		}
		return Member{}, err
	}
	return m, nil
}

// Approve admits a pending member and notifies the room.
func (s *Service) Approve(ctx context.Context, groupID, adminID, userID string) (Member, error) {
	if err := s.requireAdmin(ctx, groupID, adminID); err != nil {
		return Member{}, err
	}

	row := s.db.QueryRow(ctx, `
		UPDATE group_members SET status=$3
		WHERE group_id=$1 AND user_id=$2
		RETURNING role, created_at
	`, groupID, userID, StatusApproved)
	m := Member{GroupID: groupID, UserID: userID, Status: StatusApproved}
	if err := row.Scan(&m.Role, &m.CreatedAt); err != nil {
		return Member{}, notFound(err)
	}

	s.publish(groupID, wire.EventMemberApproved, wire.MemberApproved{GroupID: groupID, UserID: userID})
	return m, nil
}

// Delete removes the group and tells the room it is gone.
func (s *Service) Delete(ctx context.Context, groupID, adminID string) error {
	if err := s.requireAdmin(ctx, groupID, adminID); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM groups WHERE id=$1`, groupID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.publish(groupID, wire.EventGroupDeleted, wire.GroupDeleted{GroupID: groupID})
	return nil
}

func (s *Service) Members(ctx context.Context, groupID string) ([]Member, error) {
	rows, err := s.db.Query(ctx, `
		SELECT m.group_id, m.user_id, u.display_name, m.role, m.status, m.created_at
		FROM group_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.group_id=$1
		ORDER BY m.created_at
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.DisplayName, &m.Role, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// IsMember reports whether userID is an approved member of groupID.
func (s *Service) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM group_members
			WHERE group_id=$1 AND user_id=$2 AND status='approved'
		)
	`, groupID, userID).Scan(&ok)
	return ok, err
}

// MembersWithLocations lists approved members with their latest sample.
// A member is online when that sample is inside OnlineWindow or the member
// holds a live socket in the room.
func (s *Service) MembersWithLocations(ctx context.Context, groupID, callerID string) ([]wire.MemberLocation, error) {
	ok, err := s.IsMember(ctx, groupID, callerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}

	rows, err := s.db.Query(ctx, `
		SELECT m.user_id, u.display_name, l.lat, l.lng, l.recorded_at
		FROM group_members m
		JOIN users u ON u.id = m.user_id
		LEFT JOIN LATERAL (
			SELECT lat, lng, recorded_at FROM location_samples
			WHERE owner_id = m.user_id
			ORDER BY recorded_at DESC
			LIMIT 1
		) l ON true
		WHERE m.group_id=$1 AND m.status='approved'
		ORDER BY u.display_name
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var live map[string]bool
	if s.opts.Online != nil {
		live = s.opts.Online.Online(groupID)
	}
	cutoff := s.opts.Now().Add(-s.opts.OnlineWindow).UnixMilli()

	out := []wire.MemberLocation{}
	for rows.Next() {
		var (
			m        wire.MemberLocation
			lat, lng *float64
			ts       *int64
		)
		if err := rows.Scan(&m.UserID, &m.DisplayName, &lat, &lng, &ts); err != nil {
			return nil, err
		}
		if lat != nil && lng != nil && ts != nil {
			m.Location = &wire.Location{Lat: *lat, Lng: *lng, Timestamp: *ts}
			m.IsOnline = *ts >= cutoff
		}
		if live[m.UserID] {
			m.IsOnline = true
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Service) requireAdmin(ctx context.Context, groupID, userID string) error {
	var role string
	err := s.db.QueryRow(ctx, `
		SELECT role FROM group_members
		WHERE group_id=$1 AND user_id=$2 AND status='approved'
	`, groupID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrForbidden
	}
	if err != nil {
		return err
	}
	if role != RoleAdmin {
		return ErrForbidden
	}
	return nil
}

func (s *Service) publish(groupID, event string, payload any) {
	if s.opts.Rooms == nil {
		return
	}
	if err := s.opts.Rooms.Publish(groupID, event, payload); err != nil {
		s.logger.Warn("room publish failed", "group", groupID, "event", event, "err", err)
	}
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
