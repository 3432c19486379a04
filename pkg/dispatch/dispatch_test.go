package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/nurture/pkg/dispatch"
	"github.com/dukex/nurture/pkg/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingProvider struct {
	calls  atomic.Int32
	result dispatch.ProviderResult
	err    error
}

func (p *countingProvider) Send(_ context.Context, _ dispatch.Message) (dispatch.ProviderResult, error) {
	p.calls.Add(1)

	return p.result, p.err
}

func TestHTTPProvider_StatusMapping(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantAccepted bool
		wantReason   string
		wantErr      bool
	}{
		{name: "accepted", status: http.StatusAccepted, body: `{"message_id":"m-1"}`, wantAccepted: true},
		{name: "rejected with reason", status: http.StatusUnprocessableEntity, body: `{"reason":"suppressed recipient"}`, wantReason: "suppressed recipient"},
		{name: "rejected without body", status: http.StatusBadRequest, wantReason: "message rejected by provider: status 400"},
		{name: "rate limited", status: http.StatusTooManyRequests, wantErr: true},
		{name: "request timeout", status: http.StatusRequestTimeout, wantErr: true},
		{name: "server error", status: http.StatusBadGateway, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotKey, gotAuth string

			var gotMsg dispatch.Message

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotKey = r.Header.Get("Idempotency-Key")
				gotAuth = r.Header.Get("Authorization")
				_ = json.NewDecoder(r.Body).Decode(&gotMsg)

				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			provider := dispatch.NewHTTPProvider(dispatch.HTTPProviderConfig{
				Endpoint: server.URL,
				APIKey:   "secret",
			}, discardLogger())

			res, err := provider.Send(t.Context(), dispatch.Message{
				TemplateRef:    "tpl-welcome",
				To:             "lead@example.com",
				IdempotencyKey: "enr-1:welcome",
			})

			assert.Equal(t, "enr-1:welcome", gotKey)
			assert.Equal(t, "Bearer secret", gotAuth)
			assert.Equal(t, "tpl-welcome", gotMsg.TemplateRef)

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, dispatch.ErrProviderUnavailable)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantAccepted, res.Accepted)
			assert.Equal(t, tt.wantReason, res.Reason)
		})
	}
}

func TestHTTPProvider_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	provider := dispatch.NewHTTPProvider(dispatch.HTTPProviderConfig{Endpoint: endpoint, Timeout: time.Second}, discardLogger())

	_, err := provider.Send(t.Context(), dispatch.Message{IdempotencyKey: "k"})
	require.Error(t, err)
	assert.ErrorIs(t, err, dispatch.ErrProviderUnavailable)
}

func TestMemoryLedger_ReservationLifecycle(t *testing.T) {
	ctx := t.Context()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	ledger := dispatch.NewMemoryLedger(clock)

	res, err := ledger.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, dispatch.ReservationFresh, res.State)

	res, err = ledger.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, dispatch.ReservationInFlight, res.State)

	clock.Advance(2 * time.Minute)

	res, err = ledger.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, dispatch.ReservationFresh, res.State, "expired pending reservation is reclaimed")

	require.NoError(t, ledger.MarkSent(ctx, "k", "m-1"))
	clock.Advance(24 * time.Hour)

	res, err = ledger.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, dispatch.ReservationSent, res.State)
	assert.Equal(t, "m-1", res.MessageID)

	require.NoError(t, ledger.Release(ctx, "other"))
	require.NoError(t, ledger.MarkRejected(ctx, "other", "bounced"))

	res, err = ledger.Reserve(ctx, "other", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, dispatch.ReservationRejected, res.State)
	assert.Equal(t, "bounced", res.Reason)
}

func TestAdapter_SendIsIdempotent(t *testing.T) {
	provider := &countingProvider{result: dispatch.ProviderResult{Accepted: true, MessageID: "m-1"}}
	adapter := dispatch.NewAdapter(provider, dispatch.NewMemoryLedger(nil), discardLogger(), dispatch.AdapterConfig{})

	req := dispatch.SendRequest{
		TemplateRef:  "tpl-welcome",
		Member:       testutil.CreateTestMember(),
		EnrollmentID: "enr-1",
		NodeID:       "welcome",
	}

	first, err := adapter.Send(t.Context(), req)
	require.NoError(t, err)
	assert.True(t, first.Accepted)
	assert.False(t, first.Duplicate)

	second, err := adapter.Send(t.Context(), req)
	require.NoError(t, err)
	assert.True(t, second.Accepted)
	assert.True(t, second.Duplicate)
	assert.Equal(t, "m-1", second.MessageID)

	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestAdapter_NewVisitSendsAgain(t *testing.T) {
	provider := &countingProvider{result: dispatch.ProviderResult{Accepted: true, MessageID: "m-1"}}
	adapter := dispatch.NewAdapter(provider, dispatch.NewMemoryLedger(nil), discardLogger(), dispatch.AdapterConfig{})

	req := dispatch.SendRequest{
		TemplateRef:  "tpl-news",
		Member:       testutil.CreateTestMember(),
		EnrollmentID: "enr-1",
		NodeID:       "news",
		Visit:        1,
	}

	for visit := 1; visit <= 3; visit++ {
		req.Visit = visit

		res, err := adapter.Send(t.Context(), req)
		require.NoError(t, err)
		assert.True(t, res.Accepted)
		assert.False(t, res.Duplicate, "visit %d", visit)
	}

	assert.Equal(t, int32(3), provider.calls.Load())
	assert.NotEqual(t,
		dispatch.SendRequest{EnrollmentID: "enr-1", NodeID: "news", Visit: 1}.IdempotencyKey(),
		dispatch.SendRequest{EnrollmentID: "enr-1", NodeID: "news", Visit: 2}.IdempotencyKey(),
	)
}

func TestAdapter_ConcurrentSendsCallProviderOnce(t *testing.T) {
	provider := &countingProvider{result: dispatch.ProviderResult{Accepted: true, MessageID: "m-1"}}
	adapter := dispatch.NewAdapter(provider, dispatch.NewMemoryLedger(nil), discardLogger(), dispatch.AdapterConfig{})

	req := dispatch.SendRequest{
		TemplateRef:  "tpl-welcome",
		Member:       testutil.CreateTestMember(),
		EnrollmentID: "enr-1",
		NodeID:       "welcome",
	}

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, _ = adapter.Send(context.Background(), req)
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestAdapter_TransientFailureReleasesReservation(t *testing.T) {
	provider := &countingProvider{err: errors.New("connection reset")}
	adapter := dispatch.NewAdapter(provider, dispatch.NewMemoryLedger(nil), discardLogger(), dispatch.AdapterConfig{})

	req := dispatch.SendRequest{
		TemplateRef:  "tpl-welcome",
		Member:       testutil.CreateTestMember(),
		EnrollmentID: "enr-1",
		NodeID:       "welcome",
	}

	_, err := adapter.Send(t.Context(), req)
	require.Error(t, err)
	assert.True(t, dispatch.IsTransient(err))

	var dispatchErr *dispatch.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, "enr-1:welcome:0", dispatchErr.Key)

	provider.err = nil
	provider.result = dispatch.ProviderResult{Accepted: true, MessageID: "m-2"}

	res, err := adapter.Send(t.Context(), req)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, int32(2), provider.calls.Load())
}

func TestAdapter_RejectionIsRemembered(t *testing.T) {
	provider := &countingProvider{result: dispatch.ProviderResult{Accepted: false, Reason: "invalid address"}}
	adapter := dispatch.NewAdapter(provider, dispatch.NewMemoryLedger(nil), discardLogger(), dispatch.AdapterConfig{})

	req := dispatch.SendRequest{
		TemplateRef:  "tpl-welcome",
		Member:       testutil.CreateTestMember(),
		EnrollmentID: "enr-1",
		NodeID:       "welcome",
	}

	res, err := adapter.Send(t.Context(), req)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, "invalid address", res.Reason)

	res, err = adapter.Send(t.Context(), req)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestAdapter_InFlightIsTransient(t *testing.T) {
	ledger := dispatch.NewMemoryLedger(nil)
	_, err := ledger.Reserve(t.Context(), "enr-1:welcome:0", time.Hour)
	require.NoError(t, err)

	provider := &countingProvider{result: dispatch.ProviderResult{Accepted: true}}
	adapter := dispatch.NewAdapter(provider, ledger, discardLogger(), dispatch.AdapterConfig{})

	_, err = adapter.Send(t.Context(), dispatch.SendRequest{
		TemplateRef:  "tpl-welcome",
		Member:       testutil.CreateTestMember(),
		EnrollmentID: "enr-1",
		NodeID:       "welcome",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, dispatch.ErrInFlight)
	assert.Zero(t, provider.calls.Load())
}

func TestRetryPolicy_Delay(t *testing.T) {
	policy := dispatch.RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Minute,
		MaxInterval:     3 * time.Minute,
		Multiplier:      2,
	}

	assert.Equal(t, time.Minute, policy.Delay(1))
	assert.Equal(t, 2*time.Minute, policy.Delay(2))
	assert.Equal(t, 3*time.Minute, policy.Delay(3))
	assert.Equal(t, 3*time.Minute, policy.Delay(7))

	assert.False(t, policy.Exhausted(2))
	assert.True(t, policy.Exhausted(3))
	assert.True(t, dispatch.RetryPolicy{}.Exhausted(3))
}
