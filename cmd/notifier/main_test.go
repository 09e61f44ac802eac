package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ridepool/internal/notify"
)

// fakeInbox implements InboxWriter for tests
type fakeInbox struct {
	failPush  int // number of times Push fails before succeeding
	pushCalls int
	trimCalls int
	keys      []string
}

func (f *fakeInbox) Push(ctx context.Context, key string, payload []byte) error {
	f.pushCalls++
	if f.pushCalls <= f.failPush {
		return errors.New("push fail")
	}
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeInbox) Trim(ctx context.Context, key string, depth int64) error {
	f.trimCalls++
	return nil
}

func TestDeliverWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeInbox{failPush: 1}
	ev := notify.Event{Type: notify.EventBookingCreated, BookingID: "b1", Recipients: []string{"driver-1"}}
	if err := deliverWithRetry(context.Background(), f, ev, []byte("{}"), 3, 5*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.pushCalls < 2 {
		t.Fatalf("expected a retry, got %d calls", f.pushCalls)
	}
	if f.trimCalls != 1 {
		t.Fatalf("expected one trim, got %d", f.trimCalls)
	}
}

func TestDeliverWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeInbox{failPush: 5}
	ev := notify.Event{Type: notify.EventBookingCreated, BookingID: "b1", Recipients: []string{"driver-1"}}
	if err := deliverWithRetry(context.Background(), f, ev, []byte("{}"), 3, time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestDeliverWithRetry_FansOutToAllRecipients(t *testing.T) {
	f := &fakeInbox{}
	ev := notify.Event{
		Type:       notify.EventBookingStatusChanged,
		BookingID:  "b1",
		Recipients: []string{"driver-1", "pax-1"},
	}
	if err := deliverWithRetry(context.Background(), f, ev, []byte("{}"), 3, time.Millisecond); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	want := []string{"notify:user:driver-1", "notify:user:pax-1"}
	if len(f.keys) != 2 || f.keys[0] != want[0] || f.keys[1] != want[1] {
		t.Fatalf("keys = %v, want %v", f.keys, want)
	}
}
