package config

import (
	"testing"
	"time"
)

type mapSettings map[string]string

func (m mapSettings) GetSetting(key string) (string, error) {
	return m[key], nil
}

func TestLoader_StringStripsJSONQuotes(t *testing.T) {
	l := NewLoader(mapSettings{"scripts.python_binary": `"python3.12"`})
	if got := l.String("scripts.python_binary", "python3"); got != "python3.12" {
		t.Fatalf("expected quotes stripped, got %q", got)
	}
}

func TestLoader_StringDefault(t *testing.T) {
	l := NewLoader(mapSettings{})
	if got := l.String("missing", "fallback"); got != "fallback" {
		t.Fatalf("expected default, got %q", got)
	}
	// A stored empty string also falls back.
	l = NewLoader(mapSettings{"key": `""`})
	if got := l.String("key", "fallback"); got != "fallback" {
		t.Fatalf("expected default for empty stored string, got %q", got)
	}
}

func TestLoader_Int(t *testing.T) {
	l := NewLoader(mapSettings{"workflow.pending_expiry_days": "14", "bad": "not-a-number"})
	if got := l.Int("workflow.pending_expiry_days", 7); got != 14 {
		t.Fatalf("expected 14, got %d", got)
	}
	if got := l.Int("bad", 7); got != 7 {
		t.Fatalf("expected default for invalid value, got %d", got)
	}
	if got := l.Int("missing", 7); got != 7 {
		t.Fatalf("expected default for missing value, got %d", got)
	}
}

func TestLoader_Bool(t *testing.T) {
	l := NewLoader(mapSettings{"on": "true", "off": "false", "junk": "yes"})
	if !l.Bool("on", false) {
		t.Fatal("expected true")
	}
	if l.Bool("off", true) {
		t.Fatal("expected stored false to override the default")
	}
	if l.Bool("junk", false) {
		t.Fatal("expected unrecognized value to read as false")
	}
	if !l.Bool("missing", true) {
		t.Fatal("expected default for missing value")
	}
}

func TestLoader_DurationDays(t *testing.T) {
	l := NewLoader(mapSettings{"workflow.prune_after_days": "30"})
	if got := l.DurationDays("workflow.prune_after_days", 90); got != 30*24*time.Hour {
		t.Fatalf("expected 720h, got %s", got)
	}
	if got := l.DurationDays("missing", 90); got != 90*24*time.Hour {
		t.Fatalf("expected default 2160h, got %s", got)
	}
}
