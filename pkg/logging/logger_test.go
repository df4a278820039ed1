package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedLogger(structured bool, level LogLevel) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, level, structured)
	l.now = func() time.Time { return time.Date(2024, 12, 23, 10, 0, 0, 0, time.UTC) }
	return l, &buf
}

func TestHumanReadableFormat(t *testing.T) {
	l, buf := fixedLogger(false, LevelInfo)
	l.Info("session", "Command sent", map[string]interface{}{"target": "vehicle", "command": 7})

	assert.Equal(t, "2024-12-23 10:00:00.000 [INFO] session: Command sent [command=7 target=vehicle]\n", buf.String())
}

func TestStructuredFormat(t *testing.T) {
	l, buf := fixedLogger(true, LevelDebug)
	l.Warn("engine", `bad "quote"`, map[string]interface{}{"b": 2, "a": 1})

	assert.Equal(t,
		`{"time":"2024-12-23 10:00:00.000","level":"WARN","component":"engine","message":"bad \"quote\"","a":"1","b":"2"}`+"\n",
		buf.String())
}

func TestLevelFilter(t *testing.T) {
	l, buf := fixedLogger(false, LevelWarn)
	l.Debug("engine", "hidden")
	l.Infof("engine", "hidden %d", 1)
	l.Errorf("engine", "shown %d", 2)
	l.WithFields(map[string]interface{}{"id": "bb:01"}).Warn("hardware", "also shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "shown 2")
	assert.Contains(t, lines[1], "[id=bb:01]")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLogLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, LevelInfo, ParseLogLevel("nonsense"))
}
