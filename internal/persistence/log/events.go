package log

import (
	stdlog "log"
	"path/filepath"

	"cliffredux.ai/internal/bridge"
)

// EventLog is a bridge.EventSink that appends every event to
// <dir>/events/events-<hour>.jsonl.zst.
type EventLog struct {
	w      *JSONLZstdWriter
	logger *stdlog.Logger
}

func NewEventLog(dir string, logger *stdlog.Logger) *EventLog {
	if logger == nil {
		logger = stdlog.Default()
	}
	return &EventLog{
		w:      NewJSONLZstdWriter(filepath.Join(dir, "events"), "events"),
		logger: logger,
	}
}

// Record writes e. A failed write is logged and dropped.
func (l *EventLog) Record(e bridge.Event) {
	if err := l.w.Write(e); err != nil {
		l.logger.Printf("event log: %v", err)
	}
}

func (l *EventLog) Close() error { return l.w.Close() }

// BuildEntry is one line of the patcher's build log.
type BuildEntry struct {
	Output   string `json:"output"`
	ROM      string `json:"rom"`
	BaseMD5  string `json:"base_md5"`
	Player   int    `json:"player"`
	Seed     int64  `json:"seed"`
}

// BuildLog appends one entry per patched image to <dir>/builds/.
type BuildLog struct{ w *JSONLZstdWriter }

func NewBuildLog(dir string) *BuildLog {
	return &BuildLog{w: NewJSONLZstdWriter(filepath.Join(dir, "builds"), "builds")}
}

func (l *BuildLog) Write(e BuildEntry) error { return l.w.Write(e) }
func (l *BuildLog) Close() error            { return l.w.Close() }
