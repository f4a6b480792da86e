package logging

import (
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger whose entries can be inspected.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger creates a logger that records everything at trace and above.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{Logger: &Logger{zap: zap.New(core)}, observed: observed}
}

// All returns all logged entries.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// AssertLogged fails tb unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			return
		}
	}
	tb.Errorf("expected log at %v containing %q, logs: %+v", level, msg, t.observed.All())
}

// AssertField fails tb unless an entry with message msg carries key=want.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.observed.FilterMessage(msg).All() {
		if got, ok := e.ContextMap()[key]; ok && got == want {
			return
		}
	}
	tb.Errorf("field %q=%v not found in message %q", key, want, msg)
}

var secretValue = regexp.MustCompile(`(?i)(bearer\s+\S+|api[_-]?key[=:]\s*\S+|sk-[A-Za-z0-9_-]{16,})`)

// AssertNoSecrets fails tb if any message or string field looks like a
// credential, or a sensitive key carries an unredacted value.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	keys := NewDefaultConfig().Redaction.Fields
	for _, e := range t.observed.All() {
		if secretValue.MatchString(e.Message) {
			tb.Errorf("sensitive pattern in message: %q", e.Message)
		}
		for _, f := range e.Context {
			if f.Type != zapcore.StringType {
				continue
			}
			if secretValue.MatchString(f.String) {
				tb.Errorf("sensitive pattern in field %q", f.Key)
			}
			lower := strings.ToLower(f.Key)
			for _, k := range keys {
				if strings.Contains(lower, k) && f.String != "" && !strings.HasPrefix(f.String, "[REDACTED") {
					tb.Errorf("sensitive field %q not redacted", f.Key)
				}
			}
		}
	}
}
