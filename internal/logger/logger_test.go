package logger

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestRingKeepsNewestFirst(t *testing.T) {
	l := Discard(3)
	for i := 0; i < 5; i++ {
		l.Infof("message %d", i)
	}

	all := l.GetAll()
	if len(all) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(all))
	}
	for i, want := range []string{"message 4", "message 3", "message 2"} {
		if all[i].Text != want {
			t.Errorf("message %d: got %q want %q", i, all[i].Text, want)
		}
	}

	recent := l.GetRecent(10)
	if len(recent) != 3 {
		t.Fatalf("GetRecent should clamp to ring size, got %d", len(recent))
	}
}

func TestLevelsForwardToSink(t *testing.T) {
	var buf bytes.Buffer
	sink := logrus.New()
	sink.SetOutput(&buf)
	sink.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})

	l := NewWithSink(10, sink)
	l.Info("sealed")
	l.Warning("degraded")
	l.Error("failed")

	out := buf.String()
	for _, want := range []string{"level=info msg=sealed", "level=warning msg=degraded", "level=error msg=failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("sink output missing %q:\n%s", want, out)
		}
	}

	msgs := l.GetAll()
	if msgs[0].Level != LevelError || msgs[2].Level != LevelInfo {
		t.Errorf("unexpected level order: %+v", msgs)
	}
}

func TestSetLevelFiltersSinkOnly(t *testing.T) {
	var buf bytes.Buffer
	sink := logrus.New()
	sink.SetOutput(&buf)

	l := NewWithSink(10, sink)
	if err := l.SetLevel("error"); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	l.Info(fmt.Sprintf("quiet %d", 1))

	if buf.Len() != 0 {
		t.Errorf("info should be filtered from sink, got %q", buf.String())
	}
	if len(l.GetAll()) != 1 {
		t.Errorf("ring should still keep filtered messages")
	}

	if err := l.SetLevel("loud"); err == nil {
		t.Errorf("expected error for unknown level")
	}
}
