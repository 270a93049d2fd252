package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DefaultEndpoint is the root of the Calendar v3 API.
const DefaultEndpoint = "https://www.googleapis.com/calendar/v3/"

// Client talks to a single calendar through the Calendar v3 API. Every call
// is one attempt; there are no retries.
type Client struct {
	endpoint   string
	calendarID string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	location   *time.Location
	logger     *slog.Logger

	svc    *gcal.Service
	svcErr error
}

type Option func(*Client)

// WithEndpoint points the client at another API root, a test server for
// example.
func WithEndpoint(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.endpoint = strings.TrimRight(u, "/") + "/"
		}
	}
}

func WithCalendarID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.calendarID = id
		}
	}
}

// WithHTTPClient sets the base client; bearer tokens are added on top of its
// transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithToken is shorthand for a static bearer token. An empty token leaves
// the client unauthenticated.
func WithToken(token string) Option {
	return func(c *Client) {
		if token == "" {
			c.tokens = nil
			return
		}
		c.tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	}
}

// WithLocation sets the zone local date-times are interpreted in and the
// timeZone reported on events.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		c.location = loc
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		endpoint:   DefaultEndpoint,
		calendarID: "primary",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		location:   time.Local,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}

	base := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)
	hc := oauth2.NewClient(base, tokenSourceFunc(c.Token))
	c.svc, c.svcErr = gcal.NewService(context.Background(),
		option.WithHTTPClient(hc),
		option.WithEndpoint(c.endpoint),
	)
	return c
}

type tokenSourceFunc func() (*oauth2.Token, error)

func (f tokenSourceFunc) Token() (*oauth2.Token, error) { return f() }

func (c *Client) Location() *time.Location { return c.location }

// TimeZone is the IANA name of the configured location.
func (c *Client) TimeZone() string { return c.location.String() }

// Token returns the current bearer token or an error matching ErrAuthMissing.
func (c *Client) Token() (*oauth2.Token, error) {
	if c.tokens == nil {
		return nil, ErrAuthMissing
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthMissing, err)
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, ErrAuthMissing
	}
	return tok, nil
}

func (c *Client) Insert(ctx context.Context, ev *Event) (*Event, error) {
	if err := c.ready("insert"); err != nil {
		return nil, err
	}
	out, err := c.svc.Events.Insert(c.calendarID, ev).Context(ctx).Do()
	return out, c.result("insert", err)
}

// List returns the expanded single events between timeMin and timeMax
// ordered by start time.
func (c *Client) List(ctx context.Context, timeMin, timeMax time.Time) ([]*Event, error) {
	if err := c.ready("list"); err != nil {
		return nil, err
	}
	out, err := c.svc.Events.List(c.calendarID).
		TimeMin(FormatTime(timeMin)).
		TimeMax(FormatTime(timeMax)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err = c.result("list", err); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Get returns the full event so callers can modify a subset of fields and
// send everything else back untouched.
func (c *Client) Get(ctx context.Context, id string) (*Event, error) {
	if err := c.ready("get"); err != nil {
		return nil, err
	}
	out, err := c.svc.Events.Get(c.calendarID, id).Context(ctx).Do()
	return out, c.result("get", err)
}

func (c *Client) Update(ctx context.Context, id string, ev *Event) (*Event, error) {
	if err := c.ready("update"); err != nil {
		return nil, err
	}
	out, err := c.svc.Events.Update(c.calendarID, id, ev).Context(ctx).Do()
	return out, c.result("update", err)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.ready("delete"); err != nil {
		return err
	}
	return c.result("delete", c.svc.Events.Delete(c.calendarID, id).Context(ctx).Do())
}

// ready fails without a request when there is no usable token.
func (c *Client) ready(op string) error {
	if _, err := c.Token(); err != nil {
		return err
	}
	if c.svcErr != nil {
		return fmt.Errorf("calendar %s: %w", op, c.svcErr)
	}
	return nil
}

func (c *Client) result(op string, err error) error {
	c.logger.Debug("calendar request", slog.String("op", op), slog.Any("err", err))
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &RequestError{Op: op, StatusCode: apiErr.Code, Body: strings.TrimSpace(apiErr.Body)}
	}
	return fmt.Errorf("calendar %s: %w", op, err)
}
