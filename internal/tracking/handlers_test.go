package tracking

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

func postSample(t *testing.T, app *fiber.App, body []byte) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/locations", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	return resp
}

func TestPostLocation(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`INSERT INTO location_samples`).
		WithArgs(pgxmock.AnyArg(), "user-1", 41.0082, 28.9784, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), int64(1700000000000)).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	app := fiber.New()
	RegisterRoutes(app, NewService(mock, nil, nil), as("user-1"))

	body := []byte(`{"ownerId":"user-1","timestamp":1700000000000,"coords":{"lat":41.0082,"lng":28.9784,"speed":1.5}}`)
	resp := postSample(t, app, body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var got Sample
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.OwnerID != "user-1" || got.Coords.Speed == nil || *got.Coords.Speed != 1.5 {
		t.Fatalf("unexpected body: %s", raw)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostLocationDefaultsOwnerToCaller(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`INSERT INTO location_samples`).
		WithArgs(pgxmock.AnyArg(), "user-2", 1.0, 2.0, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	app := fiber.New()
	RegisterRoutes(app, NewService(mock, nil, nil), as("user-2"))

	body, _ := json.Marshal(wire.Sample{Timestamp: 5, Coords: wire.Coords{Lat: 1, Lng: 2}})
	if resp := postSample(t, app, body); resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
}

func TestPostLocationRejections(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app, NewService(nil, nil, nil), as("user-1"))

	cases := map[string]struct {
		body   string
		status int
	}{
		"malformed":    {`{`, http.StatusBadRequest},
		"other owner":  {`{"ownerId":"user-9","timestamp":1,"coords":{"lat":1,"lng":1}}`, http.StatusForbidden},
		"out of range": {`{"ownerId":"user-1","timestamp":1,"coords":{"lat":123,"lng":1}}`, http.StatusBadRequest},
		"no timestamp": {`{"ownerId":"user-1","coords":{"lat":1,"lng":1}}`, http.StatusBadRequest},
	}
	for name, tc := range cases {
		if resp := postSample(t, app, []byte(tc.body)); resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d, got %d", name, tc.status, resp.StatusCode)
		}
	}
}

func TestPostLocationStoreError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`INSERT INTO location_samples`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errDB)

	app := fiber.New()
	RegisterRoutes(app, NewService(mock, nil, nil), as("user-1"))

	resp := postSample(t, app, []byte(`{"ownerId":"user-1","timestamp":1,"coords":{"lat":1,"lng":1}}`))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestGetLocations(t *testing.T) {
	mock := newMock(t)
	cols := []string{"id", "owner_id", "lat", "lng", "accuracy", "heading", "speed", "recorded_at", "created_at"}
	mock.ExpectQuery(`SELECT id, owner_id`).
		WithArgs("user-1", 2).
		WillReturnRows(pgxmock.NewRows(cols).AddRow("s1", "user-1", 41.0, 29.0, nil, nil, nil, int64(10), time.Now()))

	app := fiber.New()
	RegisterRoutes(app, NewService(mock, nil, nil), as("user-1"))

	req := httptest.NewRequest(http.MethodGet, "/locations/user-1?limit=2", nil)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("get status: %v", err)
	}
	var samples []Sample
	_ = json.NewDecoder(resp.Body).Decode(&samples)
	if len(samples) != 1 || samples[0].ID != "s1" {
		t.Fatalf("unexpected samples: %+v", samples)
	}
}

func TestGetLocationsOfStranger(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("user-1", "user-7").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	app := fiber.New()
	RegisterRoutes(app, NewService(mock, nil, nil), as("user-1"))

	req := httptest.NewRequest(http.MethodGet, "/locations/user-7", nil)
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %d", resp.StatusCode)
	}
}

func TestGetSummaryOfGroupPeer(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("user-1", "user-2").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	cols := []string{"id", "owner_id", "lat", "lng", "accuracy", "heading", "speed", "recorded_at", "created_at"}
	mock.ExpectQuery(`SELECT id, owner_id`).
		WithArgs("user-2", DefaultLimit).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("s2", "user-2", 0.0, 1.0, nil, nil, nil, int64(2000), time.Now()).
			AddRow("s1", "user-2", 0.0, 0.0, nil, nil, nil, int64(1000), time.Now()))

	app := fiber.New()
	RegisterRoutes(app, NewService(mock, nil, nil), as("user-1"))

	req := httptest.NewRequest(http.MethodGet, "/locations/user-2/summary", nil)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("summary status: %v", err)
	}
	var sum Summary
	_ = json.NewDecoder(resp.Body).Decode(&sum)
	if sum.PointCount != 2 || sum.DistanceM < 110000 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}
