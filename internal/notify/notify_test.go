package notify

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestValue_SetEqualIsNoop(t *testing.T) {
	v := NewValue(false)
	calls := 0
	v.Attach(func(bool) { calls++ }, nil)

	assert.False(t, v.Set(false))
	assert.Equal(t, 0, calls)
}

func TestValue_SetChangedNotifiesInAttachOrder(t *testing.T) {
	v := NewValue(0)
	var order []string
	v.Attach(func(n int) { order = append(order, "first") }, nil)
	v.Attach(func(n int) { order = append(order, "second") }, "owner")
	v.Attach(func(n int) { order = append(order, "third") }, nil)

	assert.True(t, v.Set(5))
	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Equal(t, 5, v.Get())

	assert.False(t, v.Set(5))
	assert.Len(t, order, 3)
}

func TestValue_SubscriberReceivesNewValue(t *testing.T) {
	online := NewValue(false)
	var got []bool
	online.Attach(func(b bool) { got = append(got, b) }, nil)

	online.Set(true)
	online.Set(true)
	online.Set(false)

	assert.Equal(t, []bool{true, false}, got)
}

func TestDetach_UnknownSubscriptionWarns(t *testing.T) {
	logger, buf := bufferLogger()
	v := NewValue("a", WithLogger(logger))
	v.Attach(func(string) {}, nil)

	other := NewValue("x")
	foreign := other.Attach(func(string) {}, nil)

	assert.False(t, v.Detach(foreign))
	assert.Equal(t, 1, v.Subscribers())
	assert.Contains(t, buf.String(), "subscription not found")

	buf.Reset()
	assert.False(t, v.Detach(nil))
	assert.Contains(t, buf.String(), "nothing was removed")
}

func TestDetach_RemovesAndNeutralises(t *testing.T) {
	v := NewValue(0)
	calls := 0
	sub := v.Attach(func(int) { calls++ }, nil)

	require.True(t, v.Detach(sub))
	assert.False(t, sub.Active())
	assert.Equal(t, 0, v.Subscribers())

	v.Set(1)
	assert.Equal(t, 0, calls)

	// detaching twice is an anomaly, not a failure
	assert.False(t, v.Detach(sub))
}

func TestDetach_DuringDispatchSkipsLaterSubscriber(t *testing.T) {
	s := NewStream[int]()
	var second *Subscription
	var got []string
	s.Attach(func(int) {
		got = append(got, "first")
		s.Detach(second)
	}, nil)
	second = s.Attach(func(int) { got = append(got, "second") }, nil)

	s.Emit(1)
	assert.Equal(t, []string{"first"}, got)
}

func TestAttach_DuplicatePairWarnsButAttaches(t *testing.T) {
	logger, buf := bufferLogger()
	v := NewValue(0, WithLogger(logger), WithName("online"))
	owner := &struct{ name string }{"mirror"}
	fn := func(int) {}

	v.Attach(fn, owner)
	v.Attach(fn, owner)

	assert.Equal(t, 2, v.Subscribers())
	assert.Contains(t, buf.String(), "duplicate callback and owner pair")
	assert.Contains(t, buf.String(), "notifier=online")
}

func TestAttach_NilOwnerClosuresDoNotWarn(t *testing.T) {
	logger, buf := bufferLogger()
	v := NewValue(0, WithLogger(logger))

	var got []string
	for _, name := range []string{"a", "b"} {
		v.Attach(func(int) { got = append(got, name) }, nil)
	}
	v.Set(1)

	assert.Equal(t, []string{"a", "b"}, got)
	assert.NotContains(t, buf.String(), "duplicate")
}

func TestAttach_NonComparableOwnerDoesNotPanic(t *testing.T) {
	v := NewValue(0)
	fn := func(int) {}
	assert.NotPanics(t, func() {
		v.Attach(fn, []string{"a"})
		v.Attach(fn, []string{"a"})
	})
}

type fileEvent struct {
	action   string
	filename string
	payload  string
}

func TestStream_EveryEmitIsDelivered(t *testing.T) {
	s := NewStream[fileEvent]()
	var got []fileEvent
	s.Attach(func(e fileEvent) { got = append(got, e) }, nil)

	ev := fileEvent{action: "update", filename: "/a.js", payload: "x"}
	s.Emit(ev)
	s.Emit(ev)
	s.Emit(fileEvent{action: "remove", filename: "/a.js"})

	require.Len(t, got, 3)
	assert.Equal(t, ev, got[0])
	assert.Equal(t, ev, got[1])
	assert.Equal(t, "remove", got[2].action)
}
