package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{" WARN ", WARN},
		{"warning", WARN},
		{"error", ERROR},
		{"info", INFO},
		{"", INFO},
		{"verbose", INFO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestSetLevelGatesDebug(t *testing.T) {
	defer SetLevel(INFO)

	SetLevel(ERROR)
	assert.False(t, base.Core().Enabled(toZap(INFO)))
	SetLevel(DEBUG)
	assert.True(t, base.Core().Enabled(toZap(DEBUG)))

	// must not panic with nil or mixed fields
	DebugCF("test", "debug entry", map[string]interface{}{"n": 1, "s": "x"})
	InfoC("test", "plain entry")
}

func TestSetFormatSwitchesEncoder(t *testing.T) {
	defer SetFormat("json")

	SetFormat("console")
	assert.Equal(t, "console", format)
	SetFormat("bogus")
	assert.Equal(t, "json", format)
}
