// Package syncclient talks to the relay over HTTP: it posts location samples
// to the remote store and pulls group members with their latest locations.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/geosource"
	applog "github.com/akbasozcan3/isci-takip-app-sub002/internal/log"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/retry"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/wire"
)

// DefaultTimeout bounds every request issued by the client.
const DefaultTimeout = 10 * time.Second

var (
	// ErrPersistenceFailed wraps every failed remote store POST.
	ErrPersistenceFailed = errors.New("syncclient: persistence failed")

	// ErrNoToken is returned when the token source yields an empty token.
	ErrNoToken = errors.New("syncclient: no bearer token")
)

// StatusError is a non-2xx response from the relay.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("syncclient: status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the request may succeed when repeated.
func (e *StatusError) Retryable() bool {
	return e.Code == fiber.StatusTooManyRequests || e.Code >= 500
}

// TokenSource supplies the bearer identity for every call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// Options configures a Client.
type Options struct {
	Timeout time.Duration
	Retry   retry.Policy
	Logger  *slog.Logger
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	tokens  TokenSource
	timeout time.Duration
	policy  retry.Policy
	logger  *slog.Logger

	wg sync.WaitGroup
}

func New(baseURL string, tokens TokenSource, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		timeout: opts.Timeout,
		policy:  opts.Retry,
		logger:  applog.Component(opts.Logger, "syncclient"),
	}
}

// SampleFromFix builds the remote store payload for a fix.
func SampleFromFix(ownerID string, fix geosource.Fix) wire.Sample {
	return wire.Sample{
		OwnerID:   ownerID,
		Timestamp: fix.Timestamp,
		Coords: wire.Coords{
			Lat:      fix.Latitude,
			Lng:      fix.Longitude,
			Accuracy: fix.Accuracy,
			Heading:  fix.Heading,
			Speed:    fix.Speed,
		},
	}
}

// PostSample issues one POST to the remote store. Failures match
// ErrPersistenceFailed.
func (c *Client) PostSample(ctx context.Context, sample wire.Sample) error {
	if err := c.postSample(ctx, sample); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	return nil
}

func (c *Client) postSample(ctx context.Context, sample wire.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	a := fiber.Post(c.baseURL + "/locations")
	a.Set(fiber.HeaderAuthorization, "Bearer "+token)
	a.Timeout(c.timeout)
	a.JSON(sample)

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if code < 200 || code >= 300 {
		return &StatusError{Code: code, Body: string(body)}
	}
	return nil
}

// PostSampleWithRetry posts with the client's bounded retry policy. Client
// errors other than 429 are not retried.
func (c *Client) PostSampleWithRetry(ctx context.Context, sample wire.Sample) error {
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		err := c.postSample(ctx, sample)
		var status *StatusError
		if errors.As(err, &status) && !status.Retryable() {
			return retry.Permanent(err)
		}
		if errors.Is(err, ErrNoToken) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	return nil
}

// Dispatch posts sample in the background with retry and only logs failures.
func (c *Client) Dispatch(ctx context.Context, sample wire.Sample) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.PostSampleWithRetry(ctx, sample); err != nil {
			c.logger.Warn("location sample dropped", "owner", sample.OwnerID, "timestamp", sample.Timestamp, "error", err)
		}
	}()
}

// Wait blocks until every dispatched sample has finished.
func (c *Client) Wait() {
	c.wg.Wait()
}

// MembersWithLocations pulls the full membership state of a group.
func (c *Client) MembersWithLocations(ctx context.Context, groupID string) ([]wire.MemberLocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	a := fiber.Get(c.baseURL + "/groups/" + url.PathEscape(groupID) + "/members-with-locations")
	a.Set(fiber.HeaderAuthorization, "Bearer "+token)
	a.Timeout(c.timeout)

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if code != fiber.StatusOK {
		return nil, &StatusError{Code: code, Body: string(body)}
	}

	var members []wire.MemberLocation
	if err := json.Unmarshal(body, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// Login exchanges credentials for an access token at the relay.
func Login(ctx context.Context, baseURL, email, password string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a := fiber.Post(strings.TrimRight(baseURL, "/") + "/auth/login")
	a.Timeout(DefaultTimeout)
	a.JSON(fiber.Map{"email": email, "password": password})

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	if code != fiber.StatusOK {
		return "", &StatusError{Code: code, Body: string(body)}
	}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", ErrNoToken
	}
	return resp.AccessToken, nil
}
