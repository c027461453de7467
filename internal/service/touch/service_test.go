package touch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/compliance-gate/internal/domain"
)

// mockRepo is an in-memory repository. Touches are unique per idempotency
// key and status.
type mockRepo struct {
	mu      sync.Mutex
	touches []domain.OutboundTouch
	err     error
}

func newMockRepo() *mockRepo {
	return &mockRepo{}
}

func (m *mockRepo) InsertTouch(_ context.Context, t *domain.OutboundTouch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, e := range m.touches {
		if e.Status == t.Status && e.IdempotencyKey == t.IdempotencyKey {
			return ErrDuplicateTouch
		}
	}
	m.touches = append(m.touches, *t)
	return nil
}

func (m *mockRepo) CountSent(_ context.Context, contactID string, ch domain.Channel, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	n := 0
	for _, t := range m.touches {
		if t.ContactID != contactID || t.Status != domain.TouchSent || t.CreatedAt.Before(since) {
			continue
		}
		if ch == "" || t.Channel == ch {
			n++
		}
	}
	return n, nil
}

func TestGenerateIdempotencyKey(t *testing.T) {
	// Start of a minute bucket.
	at := time.Unix(1_700_000_040, 0)

	assert.Equal(t, "c1:sms:welcome:28333334", GenerateIdempotencyKey("c1", domain.ChannelSMS, "welcome", at))
	assert.Equal(t, "c1:sms:direct:28333334", GenerateIdempotencyKey("c1", domain.ChannelSMS, "", at))

	// Same minute bucket collapses, next bucket does not.
	assert.Equal(t,
		GenerateIdempotencyKey("c1", domain.ChannelSMS, "t", at),
		GenerateIdempotencyKey("c1", domain.ChannelSMS, "t", at.Add(59*time.Second)))
	assert.NotEqual(t,
		GenerateIdempotencyKey("c1", domain.ChannelSMS, "t", at),
		GenerateIdempotencyKey("c1", domain.ChannelSMS, "t", at.Add(60*time.Second)))
}

func TestRecordOutboundTouchDuplicateIsSuccess(t *testing.T) {
	repo := newMockRepo()
	now := time.Date(2026, 5, 4, 15, 0, 10, 0, time.UTC)
	l := NewLedger(repo, time.Second).WithClock(func() time.Time { return now })
	ctx := context.Background()

	p := Params{ContactID: "c1", Channel: domain.ChannelSMS, TemplateID: "promo", Status: domain.TouchSent}

	first := l.RecordOutboundTouch(ctx, p)
	assert.True(t, first.Success)
	assert.False(t, first.Duplicate)

	now = now.Add(20 * time.Second)
	second := l.RecordOutboundTouch(ctx, p)
	assert.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.IdempotencyKey, second.IdempotencyKey)

	assert.Len(t, repo.touches, 1)
	assert.Equal(t, 1, l.GetTouchCount(ctx, "c1", domain.ChannelSMS, 24*time.Hour))
}

func TestRepeatedBlockedTouchStoresOneRow(t *testing.T) {
	repo := newMockRepo()
	now := time.Date(2026, 5, 4, 15, 0, 10, 0, time.UTC)
	l := NewLedger(repo, time.Second).WithClock(func() time.Time { return now })
	ctx := context.Background()

	p := Params{ContactID: "c1", Channel: domain.ChannelSMS, TemplateID: "t1", Status: domain.TouchBlocked, BlockReason: domain.ReasonSuppressed}
	first := l.RecordOutboundTouch(ctx, p)
	now = now.Add(15 * time.Second)
	second := l.RecordOutboundTouch(ctx, p)

	assert.True(t, first.Success)
	assert.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Len(t, repo.touches, 1)
}

func TestBlockedTouchDoesNotShadowSend(t *testing.T) {
	repo := newMockRepo()
	now := time.Date(2026, 5, 4, 15, 0, 10, 0, time.UTC)
	l := NewLedger(repo, time.Second).WithClock(func() time.Time { return now })
	ctx := context.Background()

	blocked := l.RecordOutboundTouch(ctx, Params{ContactID: "c1", Channel: domain.ChannelSMS, Status: domain.TouchBlocked, BlockReason: domain.ReasonNoConsent})
	require.True(t, blocked.Success)

	sent := l.RecordOutboundTouch(ctx, Params{ContactID: "c1", Channel: domain.ChannelSMS, Status: domain.TouchSent})
	assert.True(t, sent.Success)
	assert.False(t, sent.Duplicate)
	assert.Equal(t, blocked.IdempotencyKey, sent.IdempotencyKey)
	assert.Equal(t, 1, l.GetTouchCount(ctx, "c1", domain.ChannelSMS, time.Hour))
}

func TestRecordOutboundTouchValidation(t *testing.T) {
	l := NewLedger(newMockRepo(), 0)
	ctx := context.Background()

	tests := []struct {
		name string
		p    Params
	}{
		{"missing contact", Params{Channel: domain.ChannelSMS, Status: domain.TouchSent}},
		{"bad channel", Params{ContactID: "c1", Channel: "pigeon", Status: domain.TouchSent}},
		{"all is not a touch channel", Params{ContactID: "c1", Channel: domain.ChannelAll, Status: domain.TouchSent}},
		{"bad status", Params{ContactID: "c1", Channel: domain.ChannelSMS, Status: "queued"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := l.RecordOutboundTouch(ctx, tt.p)
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Error)
		})
	}
}

func TestRecordOutboundTouchStoreError(t *testing.T) {
	repo := newMockRepo()
	repo.err = errors.New("disk full")
	l := NewLedger(repo, 0)

	res := l.RecordOutboundTouch(context.Background(), Params{ContactID: "c1", Channel: domain.ChannelEmail, Status: domain.TouchFailed})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "disk full")
}

func TestGetTouchCountSlidingWindow(t *testing.T) {
	repo := newMockRepo()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	l := NewLedger(repo, 0).WithClock(func() time.Time { return now })
	ctx := context.Background()

	record := func(ch domain.Channel, status domain.TouchStatus, at time.Time, tpl string) {
		res := l.RecordOutboundTouch(ctx, Params{ContactID: "c1", Channel: ch, Status: status, TemplateID: tpl, At: at})
		require.True(t, res.Success)
	}
	record(domain.ChannelSMS, domain.TouchSent, now.Add(-23*time.Hour), "a")
	record(domain.ChannelSMS, domain.TouchSent, now.Add(-2*time.Hour), "b")
	record(domain.ChannelSMS, domain.TouchSent, now.Add(-25*time.Hour), "c")
	record(domain.ChannelSMS, domain.TouchBlocked, now.Add(-time.Hour), "d")
	record(domain.ChannelSMS, domain.TouchFailed, now.Add(-time.Hour), "e")
	record(domain.ChannelEmail, domain.TouchSent, now.Add(-time.Hour), "f")

	assert.Equal(t, 2, l.GetTouchCount(ctx, "c1", domain.ChannelSMS, 24*time.Hour))
	assert.Equal(t, 3, l.GetTouchCount(ctx, "c1", "", 24*time.Hour))
	assert.Equal(t, 0, l.GetTouchCount(ctx, "c2", "", 24*time.Hour))

	// The oldest in-window touch ages out.
	now = now.Add(90 * time.Minute)
	assert.Equal(t, 1, l.GetTouchCount(ctx, "c1", domain.ChannelSMS, 24*time.Hour))
}

func TestGetTouchCountFailSafe(t *testing.T) {
	repo := newMockRepo()
	repo.err = errors.New("connection reset")
	l := NewLedger(repo, 0)

	assert.Equal(t, CountSentinel, l.GetTouchCount(context.Background(), "c1", domain.ChannelSMS, 24*time.Hour))
}
