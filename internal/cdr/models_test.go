package cdr

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"callswitch/internal/session"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCall(clk *fakeClock) *session.Call {
	c := session.NewCall(clk.Now)
	c.SetIncomingLeg(session.NewLeg(
		session.DirectionIncoming,
		"abc123@10.0.0.5",
		"sip:1001@pbx.example.com",
		"sip:2001@pbx.example.com",
		"sip:1001@10.0.0.5:5060",
		"tag-a",
		clk.Now(),
	))
	return c
}

func TestFromCallRejectsActiveCall(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	c := newTestCall(clk)
	c.MarkEstablished()

	if _, err := FromCall(c); !errors.Is(err, ErrNotTerminal) {
		t.Fatalf("FromCall(active) error = %v, want ErrNotTerminal", err)
	}
}

func TestFromCallAnsweredCall(t *testing.T) {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clk := &fakeClock{now: start}
	c := newTestCall(clk)
	c.MarkEstablished()
	clk.Advance(120 * time.Second)
	c.MarkTerminated("user_hangup")

	r, err := FromCall(c)
	if err != nil {
		t.Fatalf("FromCall() error = %v", err)
	}
	if r.CallID != c.ID() || r.State != "terminated" {
		t.Errorf("record = %+v", r)
	}
	if r.CallerURI != "sip:1001@pbx.example.com" || r.CalleeExtension != "2001" {
		t.Errorf("parties: caller=%s callee_ext=%s", r.CallerURI, r.CalleeExtension)
	}
	if r.AnswerTime == nil || !r.AnswerTime.Equal(start) {
		t.Errorf("answer_time = %v, want %v", r.AnswerTime, start)
	}
	if r.DurationSeconds == nil || *r.DurationSeconds != 120 {
		t.Errorf("duration_seconds = %v, want 120", r.DurationSeconds)
	}
	if r.TerminationReason != "user_hangup" {
		t.Errorf("termination_reason = %q", r.TerminationReason)
	}
}

func TestFromCallUnansweredCallOmitsDuration(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	c := newTestCall(clk)
	c.MarkRinging()
	clk.Advance(30 * time.Second)
	c.MarkFailed("rejected")

	r, err := FromCall(c)
	if err != nil {
		t.Fatalf("FromCall() error = %v", err)
	}
	if r.AnswerTime != nil {
		t.Errorf("answer_time = %v, want nil", r.AnswerTime)
	}
	if r.DurationSeconds != nil {
		t.Errorf("duration_seconds = %v, want nil", r.DurationSeconds)
	}
	if r.State != "failed" || r.TerminationReason != "rejected" {
		t.Errorf("record = %+v", r)
	}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "duration_seconds") {
		t.Errorf("unanswered record serializes a duration: %s", data)
	}
}

type memoryStore struct {
	records []Record
	err     error
}

func (m *memoryStore) Insert(_ context.Context, r Record) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, r)
	return nil
}

type memoryPublisher struct {
	records []Record
	err     error
}

func (m *memoryPublisher) Publish(_ context.Context, r Record) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, r)
	return nil
}

func TestServiceEmitDeliversToBothSinks(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	c := newTestCall(clk)
	c.MarkEstablished()
	clk.Advance(10 * time.Second)
	c.MarkTerminated("user_hangup")

	store := &memoryStore{}
	pub := &memoryPublisher{}
	svc := NewService(store, pub, nil)
	svc.Emit(context.Background(), c)

	if len(store.records) != 1 || len(pub.records) != 1 {
		t.Fatalf("store=%d publisher=%d records, want 1 each", len(store.records), len(pub.records))
	}
	if store.records[0].CallID != c.ID() {
		t.Errorf("stored call_id = %s, want %s", store.records[0].CallID, c.ID())
	}
}

func TestServiceEmitSurvivesStoreFailure(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	c := newTestCall(clk)
	c.MarkTerminated("network_error")

	pub := &memoryPublisher{}
	svc := NewService(&memoryStore{err: errors.New("db down")}, pub, nil)
	svc.Emit(context.Background(), c)

	if len(pub.records) != 1 {
		t.Fatalf("publisher got %d records after store failure, want 1", len(pub.records))
	}
}

func TestServiceEmitSkipsActiveCall(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	c := newTestCall(clk)
	c.MarkEstablished()

	store := &memoryStore{}
	svc := NewService(store, nil, nil)
	svc.Emit(context.Background(), c)

	if len(store.records) != 0 {
		t.Fatalf("store got %d records for an active call, want 0", len(store.records))
	}
}
