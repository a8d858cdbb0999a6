package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "debug", "json")
	if l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("level = %v, want debug", l.GetLevel())
	}
	l.WithField("title_id", "T1").Info("refreshed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not json: %v (%q)", err, buf.String())
	}
	if entry["title_id"] != "T1" || entry["msg"] != "refreshed" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewWithWriterTextAndBadLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "loud", "text")
	if l.GetLevel() != logrus.InfoLevel {
		t.Fatalf("level = %v, want info fallback", l.GetLevel())
	}
	l.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("text output = %q", buf.String())
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) != logrus.StandardLogger() {
		t.Fatalf("nil should map to the standard logger")
	}
	l := Discard()
	if OrDefault(l) != l {
		t.Fatalf("non-nil logger should pass through")
	}
}
