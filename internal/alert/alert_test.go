package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joestump/congress-roster/internal/db"
	"github.com/joestump/congress-roster/internal/redact"
)

type fakeNotifier struct {
	name string
	err  error

	mu   sync.Mutex
	sent []Message
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func openStore(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, notifiers ...Notifier) (*Manager, *db.DB, *clock) {
	t.Helper()
	store := openStore(t)
	c := &clock{t: time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC)}
	m := New(store, notifiers, WithClock(c.now), WithLogger(quietLogger()))
	return m, store, c
}

func TestRaiseDeliversOnRuleChannels(t *testing.T) {
	logN := &fakeNotifier{name: ChannelLog}
	email := &fakeNotifier{name: ChannelEmail}
	slack := &fakeNotifier{name: ChannelSlack}
	m, store, _ := newTestManager(t, logN, email, slack)
	ctx := context.Background()

	a, err := m.Raise(ctx, Event{Rule: RuleSourceFailure, Source: "house_clerk", Message: "timeout"})
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, string(Error), a.Severity)
	assert.Equal(t, "Source failed", a.Title)

	// source_failure routes to log and webhook_json only.
	assert.Equal(t, 1, logN.count())
	assert.Equal(t, 0, email.count())
	assert.Equal(t, 0, slack.count())

	ds, err := store.ListDeliveries(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, ChannelLog, ds[0].Channel)
	assert.Equal(t, "sent", ds[0].Status)
	assert.Equal(t, 0, ds[0].Step)
}

func TestRaiseUnknownRule(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Raise(context.Background(), Event{Rule: "nope"})
	assert.ErrorIs(t, err, ErrUnknownRule)
}

func TestRaiseCooldown(t *testing.T) {
	logN := &fakeNotifier{name: ChannelLog}
	m, store, c := newTestManager(t, logN)
	ctx := context.Background()

	first, err := m.Raise(ctx, Event{Rule: RuleSourceFailure, Source: "senate_xml"})
	require.NoError(t, err)
	require.NotNil(t, first)

	c.advance(10 * time.Minute)
	again, err := m.Raise(ctx, Event{Rule: RuleSourceFailure, Source: "senate_xml"})
	require.NoError(t, err)
	assert.Nil(t, again, "same rule and source within cooldown is suppressed")

	other, err := m.Raise(ctx, Event{Rule: RuleSourceFailure, Source: "house_clerk"})
	require.NoError(t, err)
	assert.NotNil(t, other, "cooldown is per source")

	worse, err := m.Raise(ctx, Event{Rule: RuleSourceFailure, Source: "senate_xml", Severity: Critical})
	require.NoError(t, err)
	assert.NotNil(t, worse, "higher severity bypasses cooldown")

	c.advance(61 * time.Minute)
	later, err := m.Raise(ctx, Event{Rule: RuleSourceFailure, Source: "senate_xml"})
	require.NoError(t, err)
	assert.NotNil(t, later)

	all, err := store.ListAlerts(ctx, false, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, 4, logN.count())
}

func TestRaiseRedactsSecrets(t *testing.T) {
	logN := &fakeNotifier{name: ChannelLog}
	store := openStore(t)
	f := redact.FromEnv()
	f.Add("CONGRESS_API_KEY", "sekrit-key-123")
	m := New(store, []Notifier{logN}, WithRedactor(f), WithLogger(quietLogger()))
	ctx := context.Background()

	a, err := m.Raise(ctx, Event{
		Rule:    RuleSourceFailure,
		Source:  "congress_api",
		Message: "GET https://api.example/v3/member?api_key=sekrit-key-123 failed",
		Context: map[string]any{"url": "https://api.example/?api_key=sekrit-key-123"},
	})
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.NotContains(t, a.Message, "sekrit-key-123")
	assert.Contains(t, a.Message, "[REDACTED:CONGRESS_API_KEY]")
	require.NotNil(t, a.Context)
	assert.NotContains(t, *a.Context, "sekrit-key-123")

	require.Equal(t, 1, logN.count())
	assert.NotContains(t, logN.sent[0].Body, "sekrit-key-123")
}

func TestRaiseRecordsFailedDelivery(t *testing.T) {
	logN := &fakeNotifier{name: ChannelLog}
	hook := &fakeNotifier{name: ChannelJSON, err: errors.New("status 500")}
	m, store, _ := newTestManager(t, logN, hook)
	ctx := context.Background()

	a, err := m.Raise(ctx, Event{Rule: RuleSourceFailure, Source: "mirror"})
	require.Error(t, err)
	require.NotNil(t, a, "alert is persisted even when a channel fails")

	ds, err := store.ListDeliveries(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	byChannel := map[string]db.Delivery{}
	for _, d := range ds {
		byChannel[d.Channel] = d
	}
	assert.Equal(t, "sent", byChannel[ChannelLog].Status)
	assert.Equal(t, "failed", byChannel[ChannelJSON].Status)
	require.NotNil(t, byChannel[ChannelJSON].Error)
	assert.Contains(t, *byChannel[ChannelJSON].Error, "status 500")
}

func TestEscalation(t *testing.T) {
	logN := &fakeNotifier{name: ChannelLog}
	email := &fakeNotifier{name: ChannelEmail}
	slack := &fakeNotifier{name: ChannelSlack}
	m, store, c := newTestManager(t, logN, email, slack)
	ctx := context.Background()

	a, err := m.Raise(ctx, Event{Rule: RuleIntegrityViolation, Message: "two chairs"})
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, 1, email.count())
	assert.Equal(t, 1, slack.count())

	n, err := m.Escalate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing due yet")

	c.advance(31 * time.Minute)
	n, err = m.Escalate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, email.count())
	assert.Equal(t, 1, slack.count())

	n, err = m.Escalate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a step is delivered once")

	c.advance(30 * time.Minute)
	n, err = m.Escalate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, slack.count())

	steps, err := store.DeliveredSteps(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true}, steps)
}

func TestEscalationStopsWhenAcknowledged(t *testing.T) {
	email := &fakeNotifier{name: ChannelEmail}
	m, _, c := newTestManager(t, email)
	ctx := context.Background()

	a, err := m.Raise(ctx, Event{Rule: RuleLeadershipConflict, Source: "SSJU"})
	require.NoError(t, err)
	require.NotNil(t, a)

	require.NoError(t, m.Acknowledge(ctx, a.ID, "ops"))
	assert.ErrorIs(t, m.Acknowledge(ctx, a.ID, "ops"), ErrAlreadyAcknowledged)
	assert.ErrorIs(t, m.Acknowledge(ctx, "missing", "ops"), ErrNotFound)

	c.advance(2 * time.Hour)
	n, err := m.Escalate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, email.count())
}

func TestEscalationWithoutChannelsIsRecordedOnce(t *testing.T) {
	m, store, c := newTestManager(t)
	ctx := context.Background()

	a, err := m.Raise(ctx, Event{Rule: RuleSessionTransition})
	require.NoError(t, err)
	require.NotNil(t, a)

	c.advance(2 * time.Hour)
	n, err := m.Escalate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	ds, err := store.ListDeliveries(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, ds, 3)
	for _, d := range ds {
		assert.Equal(t, "skipped", d.Status)
	}

	n, err = m.Escalate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	ds, err = store.ListDeliveries(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, ds, 3)
}

func TestWithRulesOverrides(t *testing.T) {
	store := openStore(t)
	m := New(store, nil, WithRules(Rule{Name: RuleSourceFailure, Title: "Feed down", Severity: Warning}))
	r, ok := m.Rule(RuleSourceFailure)
	require.True(t, ok)
	assert.Equal(t, "Feed down", r.Title)
	_, ok = m.Rule(RuleSchemaChanged)
	assert.True(t, ok, "other defaults remain")
}

// --- Notifiers ---

func testMessage() Message {
	return Message{
		ID:        "a-1",
		Rule:      RuleSchemaChanged,
		Title:     "Source schema changed",
		Body:      "house_clerk dropped 40% of records",
		Severity:  Error,
		Source:    "house_clerk",
		CreatedAt: time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC),
		Context:   map[string]any{"drop_rate": 0.4},
	}
}

func TestSlackNotifierPayload(t *testing.T) {
	var got slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, srv.Client())
	require.NoError(t, n.Send(context.Background(), testMessage()))

	require.Len(t, got.Attachments, 1)
	att := got.Attachments[0]
	assert.Equal(t, "#ff9900", att.Color)
	assert.Equal(t, "[ERROR] Source schema changed", att.Title)
	assert.Equal(t, "house_clerk dropped 40% of records", att.Text)
	require.Len(t, att.Fields, 2)
	assert.Equal(t, "Source", att.Fields[0].Title)
	assert.Equal(t, "house_clerk", att.Fields[0].Value)
	assert.Equal(t, int64(1748844000), att.TS)
}

func TestWebhookNotifierPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, srv.Client())
	require.NoError(t, n.Send(context.Background(), testMessage()))

	assert.Equal(t, "a-1", got["id"])
	assert.Equal(t, "error", got["severity"])
	assert.Equal(t, "house_clerk", got["source"])
	assert.Equal(t, "house_clerk dropped 40% of records", got["message"])
	assert.Equal(t, "2025-06-02T06:00:00Z", got["created_at"])
	assert.Equal(t, map[string]any{"drop_rate": 0.4}, got["context"])
}

func TestWebhookNotifierStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL+"/hooks/secret-token", srv.Client())
	err := n.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestEmailNotifierComposes(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	n := NewEmailNotifier(EmailConfig{
		Host: "smtp.example.org", From: "rosterd@example.org", To: []string{"ops@example.org"},
	}).WithSendMail(func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	})
	require.NoError(t, n.Send(context.Background(), testMessage()))

	assert.Equal(t, "smtp.example.org:587", gotAddr)
	assert.Equal(t, []string{"ops@example.org"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: [ERROR] Source schema changed\r\n")
	assert.Contains(t, gotMsg, "multipart/alternative")
	assert.Contains(t, gotMsg, "text/html")
	assert.Contains(t, gotMsg, "<table>")
	assert.Contains(t, gotMsg, "rosterd ack a-1")
	assert.Contains(t, gotMsg, "drop_rate")
}

func TestEmailNotifierSendError(t *testing.T) {
	n := NewEmailNotifier(EmailConfig{Host: "smtp.example.org", From: "a@b", To: []string{"c@d"}}).
		WithSendMail(func(string, smtp.Auth, string, []string, []byte) error {
			return errors.New("connection refused")
		})
	err := n.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNewNotifiers(t *testing.T) {
	ns, err := NewNotifiers(Settings{
		Channels: []string{ChannelLog, ChannelEmail, ChannelSlack, ChannelJSON, ChannelLog},
		SlackURL: "https://hooks.example/slack",
	}, quietLogger())
	require.NoError(t, err)
	require.Len(t, ns, 4)

	names := make([]string, len(ns))
	for i, n := range ns {
		names[i] = n.Name()
	}
	assert.Equal(t, []string{ChannelLog, ChannelEmail, ChannelSlack, ChannelJSON}, names)

	_, isSlack := ns[2].(*SlackNotifier)
	assert.True(t, isSlack)

	err = ns[1].Send(context.Background(), testMessage())
	assert.ErrorIs(t, err, ErrChannelDisabled)
	assert.True(t, strings.Contains(err.Error(), "SMTP_SERVER"))
	assert.ErrorIs(t, ns[3].Send(context.Background(), testMessage()), ErrChannelDisabled)

	_, err = NewNotifiers(Settings{Channels: []string{"pager"}}, nil)
	assert.Error(t, err)
}
