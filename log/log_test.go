package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(&bytes.Buffer{})

	SetLevel(LevelWarn)
	Info("should not appear")
	assert.Empty(t, buf.String())

	Warn("should appear", "key", "value")
	assert.Contains(t, buf.String(), "should appear")
	assert.Contains(t, buf.String(), "value")
}

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, LevelDebug, levelFromString("debug"))
	assert.Equal(t, LevelWarn, levelFromString("WARN"))
	assert.Equal(t, LevelInfo, levelFromString("bogus"))
}

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(&bytes.Buffer{})
	SetLevel(LevelInfo)

	ctx := NewContext(context.Background(), "device", "Living Room")
	Info(ctx, "bound")
	assert.Contains(t, buf.String(), "Living Room")
}

func TestErrorArgument(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(&bytes.Buffer{})
	SetLevel(LevelError)

	Error("failed", assert.AnError)
	assert.Contains(t, buf.String(), assert.AnError.Error())
}
