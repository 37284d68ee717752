package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name string
	err  error
	sent int
}

func (f *fakeSender) Send(ctx context.Context, title, message string) error {
	f.sent++
	return f.err
}
func (f *fakeSender) Name() string { return f.name }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifyForwardsToAllSendersWhenNoFilterConfigured(t *testing.T) {
	a, b := &fakeSender{name: "a"}, &fakeSender{name: "b"}
	n := NewNotifier([]Sender{a, b}, nil, discardLogger())

	err := n.Notify(context.Background(), "order_filled", "title", "message")
	require.NoError(t, err)
	require.Equal(t, 1, a.sent)
	require.Equal(t, 1, b.sent)
}

func TestNotifyFiltersOutDisallowedEvent(t *testing.T) {
	a := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{a}, []string{"order_filled"}, discardLogger())

	err := n.Notify(context.Background(), "order_rejected", "title", "message")
	require.NoError(t, err)
	require.Zero(t, a.sent)
}

func TestNotifyAllowsConfiguredEvent(t *testing.T) {
	a := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{a}, []string{"order_filled", "order_rejected"}, discardLogger())

	err := n.Notify(context.Background(), "order_rejected", "title", "message")
	require.NoError(t, err)
	require.Equal(t, 1, a.sent)
}

func TestNotifyAllBypassesEventFilter(t *testing.T) {
	a := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{a}, []string{"order_filled"}, discardLogger())

	err := n.NotifyAll(context.Background(), "title", "message")
	require.NoError(t, err)
	require.Equal(t, 1, a.sent)
}

func TestDispatchContinuesAfterOneSenderFails(t *testing.T) {
	failing := &fakeSender{name: "failing", err: errors.New("boom")}
	ok := &fakeSender{name: "ok"}
	n := NewNotifier([]Sender{failing, ok}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "title", "message")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failing: boom")
	require.Equal(t, 1, failing.sent)
	require.Equal(t, 1, ok.sent)
}

func TestDispatchWithNoSendersIsNoop(t *testing.T) {
	n := NewNotifier(nil, nil, discardLogger())
	require.NoError(t, n.NotifyAll(context.Background(), "title", "message"))
}

func TestEventFilterTrimsWhitespace(t *testing.T) {
	a := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{a}, []string{"  order_filled  "}, discardLogger())

	err := n.Notify(context.Background(), "order_filled", "title", "message")
	require.NoError(t, err)
	require.Equal(t, 1, a.sent)
}
