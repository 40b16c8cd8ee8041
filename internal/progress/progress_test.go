package progress

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordSink struct {
	updates []Update
	err     error
}

func (r *recordSink) Report(_ context.Context, u Update) error {
	r.updates = append(r.updates, u)
	return r.err
}

func TestTracker_ThrottlesButReportsCompletion(t *testing.T) {
	sink := &recordSink{}
	tr := NewTracker(context.Background(), sink, "Downloading", 100, true, time.Hour)

	for i := 0; i < 10; i++ {
		tr.Add(10)
	}

	if len(sink.updates) != 2 {
		t.Fatalf("got %d reports, want 2 (first + completion): %+v", len(sink.updates), sink.updates)
	}
	last := sink.updates[len(sink.updates)-1]
	if !last.Done() || last.Current != 100 || !last.IsSize {
		t.Errorf("final report = %+v", last)
	}
}

func TestTracker_ClampsToTotal(t *testing.T) {
	tr := NewTracker(context.Background(), nil, "Uploading", 5, false, time.Hour)
	tr.Add(3)
	tr.Add(10)
	if got := tr.Current(); got != 5 {
		t.Errorf("Current() = %d, want 5", got)
	}
}

func TestTracker_SinkErrorsAreSwallowed(t *testing.T) {
	sink := &recordSink{err: errors.New("progress endpoint down")}
	tr := NewTracker(context.Background(), sink, "Downloading", 0, true, time.Millisecond)
	tr.Add(1)
	tr.Finish()
	if len(sink.updates) == 0 {
		t.Error("expected reports despite sink errors")
	}
}

func TestMulti(t *testing.T) {
	a, b := &recordSink{}, &recordSink{err: errors.New("boom")}
	err := Multi(a, nil, b).Report(context.Background(), Update{Message: "x"})
	if err == nil {
		t.Error("expected error from failing sink")
	}
	if len(a.updates) != 1 || len(b.updates) != 1 {
		t.Errorf("each sink should get the update: a=%d b=%d", len(a.updates), len(b.updates))
	}
}
