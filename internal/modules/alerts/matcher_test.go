package alerts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	channel, target, message string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, channel, target, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{channel, target, message})
	return nil
}

func testListing() domain.Listing {
	return domain.Listing{
		ID:        7,
		URL:       "https://market.example/7",
		Title:     "Nikon D750 body",
		BasePrice: decimal.NewFromInt(500),
		Currency:  domain.CurrencyUSD,
	}
}

func TestMatcher_EvaluateRecordsAndNotifies(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	notifier := &fakeNotifier{}
	matcher := NewMatcher(repo, notifier, nil, zerolog.Nop())

	hit, err := repo.Create(ctx, CreateRequest{SearchQuery: "nikon d750", MaxPrice: dec("600"), NotificationTarget: "a@b"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, CreateRequest{SearchQuery: "canon", NotificationTarget: "a@b"})
	require.NoError(t, err)
	paused, err := repo.Create(ctx, CreateRequest{SearchQuery: "nikon", NotificationTarget: "a@b"})
	require.NoError(t, err)
	require.NoError(t, repo.Pause(ctx, paused.ID))

	matches, err := matcher.Evaluate(ctx, testListing(), decimal.RequireFromString("610.25"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, hit.ID, matches[0].AlertID)
	assert.True(t, matches[0].NotificationSent)
	assert.Equal(t, "610.25", matches[0].FairPrice.String())

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, MethodEmail, notifier.sent[0].channel)
	assert.Contains(t, notifier.sent[0].message, "Nikon D750 body")

	got, err := repo.Get(ctx, hit.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TriggerCount)
}

func TestMatcher_NotifierFailureKeepsMatch(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	matcher := NewMatcher(repo, &fakeNotifier{err: errors.New("smtp down")}, nil, zerolog.Nop())

	a, err := repo.Create(ctx, CreateRequest{SearchQuery: "nikon", NotificationTarget: "a@b"})
	require.NoError(t, err)

	matches, err := matcher.Evaluate(ctx, testListing(), decimal.NewFromInt(500))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.False(t, matches[0].NotificationSent)

	stored, _, err := repo.Matches(ctx, a.ID, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.False(t, stored[0].NotificationSent)
}

func TestWebhookNotifier_PostsPayload(t *testing.T) {
	var (
		mu       sync.Mutex
		received WebhookPayload
		key      string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		key = r.Header.Get("Idempotency-Key")
		_ = decodeJSON(r, &received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(time.Second, zerolog.Nop())
	require.NoError(t, n.Send(context.Background(), MethodWebhook, srv.URL, "hello"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "hello", received.Message)
	assert.Equal(t, received.ID, key)
	assert.NotEmpty(t, key)
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(time.Second, zerolog.Nop())
	assert.Error(t, n.Send(context.Background(), MethodWebhook, srv.URL, "hello"))
}

func TestDispatcher_RoutesByChannel(t *testing.T) {
	webhook := &fakeNotifier{}
	fallback := &fakeNotifier{}
	d := NewDispatcher(fallback).Route(MethodWebhook, webhook)

	require.NoError(t, d.Send(context.Background(), MethodWebhook, "https://x", "a"))
	require.NoError(t, d.Send(context.Background(), MethodEmail, "me@x", "b"))

	assert.Len(t, webhook.sent, 1)
	assert.Len(t, fallback.sent, 1)
	assert.Equal(t, "me@x", fallback.sent[0].target)

	assert.Error(t, NewDispatcher(nil).Send(context.Background(), "x", "y", "z"))
}
