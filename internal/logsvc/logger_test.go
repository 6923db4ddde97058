package logsvc

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStdLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLogger(log.New(&buf, "", 0))

	l.Info("batch done run=%s", "r1")
	l.Warn("student failed id=%d", 3)
	l.Error("store down err=%v", "timeout")

	assert.Equal(t, "batch done run=r1\nwarning: student failed id=3\nerror: store down err=timeout\n", buf.String())
}

func TestNewWithoutTokenIsStd(t *testing.T) {
	l := New(log.New(&bytes.Buffer{}, "", 0), "  ", "test")
	_, ok := l.(*StdLogger)
	assert.True(t, ok)
}
