package notify

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestCenterDeliversInOrder(t *testing.T) {
	c := NewCenter()
	var got []string
	c.Subscribe(func(e Event) { got = append(got, "first:"+e.Message) })
	c.Subscribe(func(e Event) { got = append(got, "second:"+e.Message) })

	c.Notice(LevelInfo, "hello")

	if len(got) != 2 || got[0] != "first:hello" || got[1] != "second:hello" {
		t.Fatalf("delivery = %v", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	c := NewCenter()
	var n int
	cancel := c.Subscribe(func(Event) { n++ })
	c.Warn("one")
	cancel()
	c.Warn("two")
	if n != 1 {
		t.Fatalf("callback ran %d times, want 1", n)
	}
}

func TestNilCenterIsNoop(t *testing.T) {
	var c *Center
	c.Emit(Event{Message: "ignored"})
}

func TestImageFailedMessage(t *testing.T) {
	c := NewCenter()
	var rec Recorder
	c.Subscribe(rec.Record)

	c.ImageFailed("b1", "Compression", "id-2", "img2.jpg", errors.New("backend exploded"))

	notices := rec.Notices(ScopeImage, LevelError)
	if len(notices) != 1 {
		t.Fatalf("got %d notices", len(notices))
	}
	want := "Compression failed for img2.jpg with error: backend exploded"
	if notices[0].Message != want {
		t.Fatalf("message = %q, want %q", notices[0].Message, want)
	}
	if notices[0].Timestamp.IsZero() {
		t.Fatalf("timestamp not set")
	}
}

func TestBatchResultLevels(t *testing.T) {
	c := NewCenter()
	var rec Recorder
	c.Subscribe(rec.Record)

	c.BatchResult("b1", "Watermark", 2, 0)
	c.BatchResult("b2", "Watermark", 2, 1)

	if n := len(rec.Notices(ScopeBatch, LevelSuccess)); n != 1 {
		t.Errorf("success notices = %d", n)
	}
	failed := rec.Notices(ScopeBatch, LevelError)
	if len(failed) != 1 || !strings.Contains(failed[0].Message, "1 of 3") {
		t.Errorf("failure notices = %+v", failed)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	c := NewCenter()
	c.Subscribe(LogSink(logger))
	c.ImageFailed("b1", "Compression", "id-2", "img2.jpg", errors.New("boom"))

	out := buf.String()
	for _, want := range []string{`"level":"error"`, `"file_name":"img2.jpg"`, `"batch_id":"b1"`, `"error":"boom"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}
