package group

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pashagolub/pgxmock/v3"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/auth"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/wire"
)

func as(userID string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(auth.LocalUserID, userID)
		return c.Next()
	}
}

func do(t *testing.T, app *fiber.App, method, path string, body []byte) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	return resp
}

func TestGroupHandlersCreateAndJoin(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`INSERT INTO groups`).
		WithArgs(pgxmock.AnyArg(), "Site A", "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec(`INSERT INTO group_members`).
		WithArgs(pgxmock.AnyArg(), "user-1", RoleAdmin, StatusApproved).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`INSERT INTO group_members`).
		WithArgs("g1", "user-1", RoleMember, StatusPending).
		WillReturnRows(pgxmock.NewRows([]string{"role", "status", "created_at"}).AddRow(RoleAdmin, StatusApproved, time.Now()))

	app := fiber.New()
	RegisterRoutes(app.Group("/groups"), NewService(mock, Options{}), as("user-1"))

	resp := do(t, app, http.MethodPost, "/groups/", []byte(`{"name":"Site A"}`))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	var g Group
	if err := json.NewDecoder(resp.Body).Decode(&g); err != nil || g.CreatedBy != "user-1" {
		t.Fatalf("unexpected group %+v (%v)", g, err)
	}

	resp = do(t, app, http.MethodPost, "/groups/g1/join-requests", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("join status %d", resp.StatusCode)
	}
	var m Member
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil || m.Status != StatusApproved {
		t.Fatalf("existing membership should keep status: %+v (%v)", m, err)
	}
}

func TestGroupHandlersBadPayload(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/groups"), NewService(newMock(t), Options{}), as("user-1"))

	resp := do(t, app, http.MethodPost, "/groups/", []byte(`{"name":`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp = do(t, app, http.MethodPost, "/groups/", []byte(`{"name":""}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank name, got %d", resp.StatusCode)
	}
}

func TestGroupHandlersApproveAndDelete(t *testing.T) {
	mock := newMock(t)
	expectRole(mock, "g1", "admin-1", RoleAdmin)
	mock.ExpectQuery(`UPDATE group_members SET status`).
		WithArgs("g1", "user-2", StatusApproved).
		WillReturnRows(pgxmock.NewRows([]string{"role", "created_at"}).AddRow(RoleMember, time.Now()))
	expectRole(mock, "g1", "admin-1", RoleAdmin)
	mock.ExpectExec(`DELETE FROM groups`).
		WithArgs("g1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	rooms := &fakeRooms{}
	app := fiber.New()
	RegisterRoutes(app.Group("/groups"), NewService(mock, Options{Rooms: rooms}), as("admin-1"))

	resp := do(t, app, http.MethodPost, "/groups/g1/members/user-2/approve", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d", resp.StatusCode)
	}
	resp = do(t, app, http.MethodDelete, "/groups/g1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", resp.StatusCode)
	}
	if len(rooms.sent) != 2 || rooms.sent[1].event != wire.EventGroupDeleted {
		t.Fatalf("unexpected room events: %+v", rooms.sent)
	}
}

func TestGroupHandlersForbidden(t *testing.T) {
	mock := newMock(t)
	expectRole(mock, "g1", "user-3", RoleMember)
	expectMembership(mock, "g1", "user-3", false)

	app := fiber.New()
	RegisterRoutes(app.Group("/groups"), NewService(mock, Options{}), as("user-3"))

	resp := do(t, app, http.MethodDelete, "/groups/g1", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on delete, got %d", resp.StatusCode)
	}
	resp = do(t, app, http.MethodGet, "/groups/g1/members-with-locations", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on poll, got %d", resp.StatusCode)
	}
}

func TestGroupHandlersMembersWithLocations(t *testing.T) {
	mock := newMock(t)
	now := time.Now()
	expectMembership(mock, "g1", "user-1", true)
	mock.ExpectQuery(`LEFT JOIN LATERAL`).
		WithArgs("g1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "display_name", "lat", "lng", "recorded_at"}).
			AddRow("user-1", "Ayse", ptr(41.0), ptr(29.0), ptr(now.UnixMilli())).
			AddRow("user-2", "Burak", nil, nil, nil))

	app := fiber.New()
	RegisterRoutes(app.Group("/groups"), NewService(mock, Options{}), as("user-1"))

	resp := do(t, app, http.MethodGet, "/groups/g1/members-with-locations", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("unexpected body: %s", raw)
	}
	if rows[1]["location"] != nil || rows[1]["isOnline"] != false {
		t.Fatalf("member without samples should carry null location: %s", raw)
	}
	if rows[0]["isOnline"] != true {
		t.Fatalf("fresh sample should be online: %s", raw)
	}
}

func TestGroupHandlersMembersList(t *testing.T) {
	mock := newMock(t)
	expectMembership(mock, "g1", "user-1", true)
	mock.ExpectQuery(`SELECT m.group_id, m.user_id, u.display_name`).
		WithArgs("g1").
		WillReturnRows(pgxmock.NewRows([]string{"group_id", "user_id", "display_name", "role", "status", "created_at"}).
			AddRow("g1", "user-1", "Ayse", RoleAdmin, StatusApproved, time.Now()).
			AddRow("g1", "user-2", "Burak", RoleMember, StatusPending, time.Now()))

	app := fiber.New()
	RegisterRoutes(app.Group("/groups"), NewService(mock, Options{}), as("user-1"))

	resp := do(t, app, http.MethodGet, "/groups/g1/members", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var members []Member
	if err := json.NewDecoder(resp.Body).Decode(&members); err != nil || len(members) != 2 {
		t.Fatalf("unexpected members %+v (%v)", members, err)
	}
}
