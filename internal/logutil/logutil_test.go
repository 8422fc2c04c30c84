package logutil

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerboseTogglesDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetVerbose(false)
	})

	SetVerbose(false)
	Debugf("hidden %d", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.False(t, Verbose())

	SetVerbose(true)
	Debugf("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")
	assert.True(t, Verbose())
}

func TestWithStampsKeyvals(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	With("id", "abc123").Info("crossposting")
	assert.Contains(t, buf.String(), "crossposting")
	assert.Contains(t, buf.String(), "id=abc123")
	assert.Contains(t, buf.String(), "crosspost")
}
