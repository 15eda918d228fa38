package observ

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Rajchodisetti/replay-engine/internal/clock"
)

// Log emits one JSON object per line. Timestamps are read through the active
// clock so log lines carry virtual time during a simulation run.
func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = clock.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	b, _ := json.Marshal(kv)
	fmt.Println(string(b))
}

// Warn logs an event tagged at warn level, used for skipped records and other
// recoverable issues that should be visible without failing a run.
func Warn(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["level"] = "warn"
	Log(event, kv)
}
