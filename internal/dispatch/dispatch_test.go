package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dkozyrev/smswatch/internal/channel/memory"
	"github.com/dkozyrev/smswatch/internal/metrics"
	"github.com/dkozyrev/smswatch/internal/watch"
)

func init() {
	metrics.Init()
}

type panicChannel struct{}

func (panicChannel) Name() string                       { return "panic" }
func (panicChannel) Send(context.Context, string) error { panic("boom") }

func TestFormat(t *testing.T) {
	t.Parallel()

	r := watch.Record{
		Timestamp:   "2026-08-31 10:00:00",
		Destination: "+15551234",
		Source:      "BANK",
		Client:      "acme",
		Content:     "Your code is 1234",
	}
	got := Format(r)
	require.Equal(t,
		"New message received\n"+
			"Time: 2026-08-31 10:00:00\n"+
			"To: +15551234\n"+
			"From: BANK\n"+
			"Client: acme\n"+
			"Text: Your code is 1234",
		got)
}

func TestFormatOmitsEmptyClient(t *testing.T) {
	t.Parallel()

	got := Format(watch.Record{Timestamp: "t", Destination: "d", Source: "s", Content: "c"})
	require.NotContains(t, got, "Client:")
}

func TestDeliverAllReachesEveryChannel(t *testing.T) {
	t.Parallel()

	a := memory.New("a")
	b := memory.New("b")
	d := New([]watch.Channel{a, b}, zap.NewNop())

	results := d.DeliverAll(context.Background(), watch.Record{Content: "hi"})
	require.Len(t, results, 2)
	for _, res := range results {
		require.True(t, res.OK)
		require.NoError(t, res.Err)
	}
	require.Len(t, a.Sent(), 1)
	require.Len(t, b.Sent(), 1)
}

func TestDeliverAllIsolatesFailures(t *testing.T) {
	t.Parallel()

	a := memory.New("a")
	a.Fail(errors.New("network down"))
	b := memory.New("b")
	d := New([]watch.Channel{a, b}, zap.NewNop())

	results := d.DeliverAll(context.Background(), watch.Record{Content: "hi"})
	require.Len(t, results, 2)
	require.False(t, results[0].OK)
	require.Error(t, results[0].Err)
	require.True(t, results[1].OK)
	require.Len(t, b.Sent(), 1)
}

func TestDeliverAllSurvivesPanickingChannel(t *testing.T) {
	t.Parallel()

	b := memory.New("b")
	d := New([]watch.Channel{panicChannel{}, b}, zap.NewNop())

	results := d.DeliverAll(context.Background(), watch.Record{Content: "hi"})
	require.Len(t, results, 2)
	require.False(t, results[0].OK)
	require.Contains(t, results[0].Err.Error(), "channel panic")
	require.True(t, results[1].OK)
}

func TestBroadcastSendsRawText(t *testing.T) {
	t.Parallel()

	a := memory.New("a")
	d := New([]watch.Channel{a}, zap.NewNop())

	d.Broadcast(context.Background(), "watcher started")
	require.Equal(t, []string{"watcher started"}, a.Sent())
}

func TestDeliveryResultCarriesFatalSentinel(t *testing.T) {
	t.Parallel()

	a := memory.New("a")
	a.Fail(watch.ErrConflictingInstance)
	d := New([]watch.Channel{a}, zap.NewNop())

	results := d.DeliverAll(context.Background(), watch.Record{Content: "hi"})
	require.ErrorIs(t, results[0].Err, watch.ErrConflictingInstance)
}
