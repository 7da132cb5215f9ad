package obs

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestErrorLogLine(t *testing.T) {
	l := Logger()
	orig := l.Writer()
	var buf bytes.Buffer
	l.SetOutput(&buf)
	defer l.SetOutput(orig)

	Error("store failure", errors.New("conn reset"), map[string]any{"request_id": "r1"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	if entry["level"] != "error" || entry["msg"] != "store failure" || entry["error"] != "conn reset" || entry["request_id"] != "r1" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["ts"].(string); !ok {
		t.Fatalf("missing ts: %v", entry)
	}
}
