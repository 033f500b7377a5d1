package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  zerolog.Level
	}{
		{"debug level", "debug", zerolog.DebugLevel},
		{"warn alias", "WARNING", zerolog.WarnLevel},
		{"error level", " error ", zerolog.ErrorLevel},
		{"default info", "", zerolog.InfoLevel},
		{"unknown falls back", "chatty", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.level); got != tt.want {
				t.Fatalf("ParseLevel(%q) = %s, want %s", tt.level, got, tt.want)
			}
		})
	}
}

func TestInitSetsGlobalLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	logger := Init("slot-booking", "prod", "warn")
	logger.Warn().Msg("logger initialised")

	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Fatalf("expected global level warn, got %s", zerolog.GlobalLevel())
	}
}
