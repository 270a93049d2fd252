package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type failingSource struct{}

func (failingSource) Token() (*oauth2.Token, error) { return nil, errors.New("expired") }

func TestToken(t *testing.T) {
	_, err := New().Token()
	require.ErrorIs(t, err, ErrAuthMissing)

	_, err = New(WithToken("")).Token()
	require.ErrorIs(t, err, ErrAuthMissing)

	_, err = New(WithTokenSource(failingSource{})).Token()
	require.ErrorIs(t, err, ErrAuthMissing)

	_, err = New(WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{}))).Token()
	require.ErrorIs(t, err, ErrAuthMissing)

	tok, err := New(WithToken("abc")).Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)
}

func TestInsert(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calendars/primary/events", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")

		var ev Event
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		assert.Equal(t, "Standup", ev.Summary)
		assert.Equal(t, "2024-03-20T09:00:00Z", ev.Start.DateTime)

		ev.Id = "evt1"
		_ = json.NewEncoder(w).Encode(ev)
	}))
	defer srv.Close()

	c := New(WithEndpoint(srv.URL), WithToken("tok"))
	out, err := c.Insert(context.Background(), &Event{
		Summary: "Standup",
		Start:   &EventTime{DateTime: "2024-03-20T09:00:00Z"},
		End:     &EventTime{DateTime: "2024-03-20T09:15:00Z"},
	})
	require.NoError(t, err)
	assert.Equal(t, "evt1", out.Id)
}

func TestList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calendars/team/events", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "2024-03-20T08:00:00Z", q.Get("timeMin"))
		assert.Equal(t, "2024-03-21T08:00:00Z", q.Get("timeMax"))
		assert.Equal(t, "true", q.Get("singleEvents"))
		assert.Equal(t, "startTime", q.Get("orderBy"))
		_, _ = w.Write([]byte(`{"items":[{"id":"a","summary":"A","start":{"date":"2024-03-20"},"end":{"date":"2024-03-21"}}]}`))
	}))
	defer srv.Close()

	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	from := time.Date(2024, 3, 20, 1, 0, 0, 0, la)

	c := New(WithEndpoint(srv.URL), WithCalendarID("team"), WithToken("tok"))
	events, err := c.List(context.Background(), from, from.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "2024-03-20", TimeValue(events[0].Start))
	assert.Empty(t, TimeValue(nil))
}

func TestGetUpdateDelete(t *testing.T) {
	var gotPut map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calendars/primary/events/id 1", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"id":"id 1","summary":"old","location":"Room 4"}`))
		case http.MethodPut:
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotPut))
			_, _ = w.Write([]byte(`{"id":"id 1","summary":"new"}`))
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	c := New(WithEndpoint(srv.URL), WithToken("tok"))
	ctx := context.Background()

	current, err := c.Get(ctx, "id 1")
	require.NoError(t, err)
	assert.Equal(t, "Room 4", current.Location)

	current.Summary = "new"
	ev, err := c.Update(ctx, "id 1", current)
	require.NoError(t, err)
	assert.Equal(t, "new", ev.Summary)
	assert.Equal(t, "Room 4", gotPut["location"])

	require.NoError(t, c.Delete(ctx, "id 1"))
}

func TestRequestError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusForbidden)
	}))
	defer srv.Close()

	err := New(WithEndpoint(srv.URL), WithToken("tok")).Delete(context.Background(), "x")
	require.ErrorIs(t, err, ErrUpstreamRequestFailed)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "delete", reqErr.Op)
	assert.Equal(t, http.StatusForbidden, reqErr.StatusCode)
	assert.Equal(t, "quota", reqErr.Body)
}

func TestNoTokenSkipsRequest(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	_, err := New(WithEndpoint(srv.URL)).Get(context.Background(), "x")
	require.ErrorIs(t, err, ErrAuthMissing)
	assert.Zero(t, calls)
}

func TestParseTime(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	c := New(WithLocation(la))
	assert.Equal(t, "America/Los_Angeles", c.TimeZone())

	got, err := c.ParseTime("2024-03-20T09:00:00-07:00")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-20T16:00:00Z", FormatTime(got))

	got, err = c.ParseTime("2024-03-20T09:00")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-20T16:00:00Z", FormatTime(got))

	got, err = c.ParseTime("2024-03-20")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-20T07:00:00Z", FormatTime(got))

	_, err = c.ParseTime("next tuesday")
	require.Error(t, err)

	assert.Equal(t, "2024-03-20", DatePart("2024-03-20T10:00:00Z"))
	assert.Equal(t, "2024-03-20", DatePart("2024-03-20"))
}
