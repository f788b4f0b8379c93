package pool

import "fmt"

const (
	stepOK    = "ok"
	stepWarn  = "warn"
	stepFatal = "error"
)

type stepEntry struct {
	Status  string
	Message string
}

// stepLog records typed step outcomes for one operation. Non-critical failures
// are recorded as warnings instead of being swallowed, so the returned log is
// backed by real outcomes rather than print statements.
type stepLog struct {
	entries []stepEntry
}

func (l *stepLog) ok(format string, args ...any) {
	l.entries = append(l.entries, stepEntry{Status: stepOK, Message: fmt.Sprintf(format, args...)})
}

func (l *stepLog) warn(format string, args ...any) {
	l.entries = append(l.entries, stepEntry{Status: stepWarn, Message: fmt.Sprintf(format, args...)})
}

func (l *stepLog) fail(format string, args ...any) {
	l.entries = append(l.entries, stepEntry{Status: stepFatal, Message: fmt.Sprintf(format, args...)})
}

func (l *stepLog) lines() []string {
	out := make([]string, 0, len(l.entries))
	for _, e := range l.entries {
		switch e.Status {
		case stepWarn:
			out = append(out, "warning: "+e.Message)
		case stepFatal:
			out = append(out, "error: "+e.Message)
		default:
			out = append(out, e.Message)
		}
	}
	return out
}
