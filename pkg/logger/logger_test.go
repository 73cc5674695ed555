package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/wonny/quantk/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *config.Config
		wantLevel zerolog.Level
	}{
		{
			name: "debug level",
			cfg: &config.Config{
				Env:       "development",
				LogLevel:  "debug",
				LogFormat: "json",
			},
			wantLevel: zerolog.DebugLevel,
		},
		{
			name: "info level",
			cfg: &config.Config{
				Env:       "production",
				LogLevel:  "info",
				LogFormat: "json",
			},
			wantLevel: zerolog.InfoLevel,
		},
		{
			name: "unknown level falls back to info",
			cfg: &config.Config{
				Env:       "development",
				LogLevel:  "loud",
				LogFormat: "console",
			},
			wantLevel: zerolog.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := New(tt.cfg)
			if log == nil {
				t.Fatal("New() returned nil")
			}

			if got := zerolog.GlobalLevel(); got != tt.wantLevel {
				t.Errorf("global level = %s, want %s", got, tt.wantLevel)
			}
		})
	}
}

func TestWithFieldsChaining(t *testing.T) {
	log := NewNop()

	derived := log.WithField("component", "bridge").
		WithFields(map[string]interface{}{"market": "KOSPI"})

	if derived == nil {
		t.Fatal("derived logger is nil")
	}

	// Derived loggers must not mutate the parent
	if derived == log {
		t.Error("WithField returned the same logger instance")
	}
}
