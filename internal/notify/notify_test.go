package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/compliance-gate/internal/pkg/httpretry"
)

func testAlert() Alert {
	return Alert{
		Severity: SeverityCritical,
		Kind:     KindLockdown,
		Subject:  "Lockdown activated for scraper",
		Body:     "threshold reached",
		Fields:   map[string]interface{}{"agent_type": "scraper", "count": 5},
	}
}

type recorder struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recorder) Notify(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func TestWebhookNotifier(t *testing.T) {
	var calls int32
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := httpretry.NewRetryClient(srv.Client(), 2, httpretry.WithBackoff(time.Millisecond, time.Millisecond), httpretry.WithMinDelay(time.Millisecond))
	n := NewWebhookNotifier(srv.URL, client)

	require.NoError(t, n.Notify(context.Background(), testAlert()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, KindLockdown, got.Kind)
	assert.Equal(t, "scraper", got.Fields["agent_type"])
}

func TestWebhookNotifierClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, srv.Client()).Notify(context.Background(), testAlert())
	assert.ErrorContains(t, err, "401")
}

type fakeNATS struct {
	subject string
	data    []byte
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	f.subject, f.data = subject, data
	return nil
}

func TestNATSNotifier(t *testing.T) {
	conn := &fakeNATS{}
	n := NewNATSNotifier(conn, "compliance.alerts.")

	require.NoError(t, n.Notify(context.Background(), testAlert()))
	assert.Equal(t, "compliance.alerts.lockdown", conn.subject)

	var got Alert
	require.NoError(t, json.Unmarshal(conn.data, &got))
	assert.Equal(t, SeverityCritical, got.Severity)
}

type fakeSQS struct{ in *sqs.SendMessageInput }

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.in = in
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSNotifier(t *testing.T) {
	client := &fakeSQS{}
	n := NewSQSNotifier(client, "https://sqs.us-west-2.amazonaws.com/123/alerts")

	require.NoError(t, n.Notify(context.Background(), testAlert()))
	require.NotNil(t, client.in)
	assert.Equal(t, "https://sqs.us-west-2.amazonaws.com/123/alerts", *client.in.QueueUrl)
	assert.Equal(t, "lockdown", *client.in.MessageAttributes["kind"].StringValue)
	assert.Contains(t, *client.in.MessageBody, `"subject":"Lockdown activated for scraper"`)
}

type fakeSES struct {
	in  *sesv2.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	return &sesv2.SendEmailOutput{}, f.err
}

func TestEmailNotifier(t *testing.T) {
	client := &fakeSES{}
	n := NewEmailNotifier(client, "gate@example.com", []string{"ops@example.com"})

	require.NoError(t, n.Notify(context.Background(), testAlert()))
	require.NotNil(t, client.in)
	assert.Equal(t, "[CRITICAL] Lockdown activated for scraper", *client.in.Content.Simple.Subject.Data)
	body := *client.in.Content.Simple.Body.Text.Data
	assert.Contains(t, body, "agent_type: scraper")
	assert.Contains(t, body, "count: 5")

	// No recipients is a no-op.
	empty := &fakeSES{}
	require.NoError(t, NewEmailNotifier(empty, "gate@example.com", nil).Notify(context.Background(), testAlert()))
	assert.Nil(t, empty.in)
}

func TestMultiDeliversToAll(t *testing.T) {
	a := &recorder{err: errors.New("down")}
	b := &recorder{}

	err := Multi{a, b}.Notify(context.Background(), testAlert())
	assert.ErrorContains(t, err, "down")
	assert.Len(t, a.alerts, 1)
	assert.Len(t, b.alerts, 1)
}

func TestDispatcherIsAsyncAndSwallowsErrors(t *testing.T) {
	r := &recorder{err: errors.New("boom")}
	d := NewDispatcher(r, time.Second)

	assert.NoError(t, d.Notify(context.Background(), testAlert()))
	d.Wait()

	require.Len(t, r.alerts, 1)
	assert.False(t, r.alerts[0].At.IsZero())
}
