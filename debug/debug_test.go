package debug

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerDisabledDiscards(t *testing.T) {
	var buf bytes.Buffer
	prev := base
	SetOutput(zerolog.New(&buf))
	defer SetOutput(prev)

	Disable()
	l := Logger()
	l.Info().Msg("also hidden")

	if buf.Len() != 0 {
		t.Fatalf("expected no output while disabled, got %q", buf.String())
	}
}

func TestComponentTagsOutput(t *testing.T) {
	var buf bytes.Buffer
	prev := base
	SetOutput(zerolog.New(&buf))
	defer SetOutput(prev)

	Enable()
	defer Disable()

	l := Component("wsclient")
	l.Info().Msg("dialing")
	l.Debug().Int("value", 7).Msg("dialed")

	out := buf.String()
	if !strings.Contains(out, `"component":"wsclient"`) {
		t.Errorf("missing component field in %q", out)
	}
	if !strings.Contains(out, `"value":7`) {
		t.Errorf("missing debug output in %q", out)
	}
	if !Enabled() {
		t.Error("Enabled() = false after Enable()")
	}
}
