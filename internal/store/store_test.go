package store

import (
	"io/fs"
	"strings"
	"testing"
	"time"
)

func TestConversionRate(t *testing.T) {
	tests := []struct {
		conversions, total int64
		want               float64
	}{
		{0, 0, 0},
		{0, 5, 0},
		{1, 3, 0.3333},
		{2, 3, 0.6667},
		{7, 7, 1},
	}

	for _, tt := range tests {
		if got := ConversionRate(tt.conversions, tt.total); got != tt.want {
			t.Errorf("ConversionRate(%d, %d) = %v, want %v", tt.conversions, tt.total, got, tt.want)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no migrations embedded")
	}

	data, err := fs.ReadFile(migrationsFS, "migrations/"+entries[0].Name())
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	sql := string(data)
	if !strings.Contains(sql, "-- +goose Up") || !strings.Contains(sql, "-- +goose Down") {
		t.Error("migration is missing goose annotations")
	}
}

func TestActiveCallKey(t *testing.T) {
	if got := activeCallKey("abc"); got != "call:active:abc" {
		t.Errorf("activeCallKey = %q", got)
	}
}

func TestActiveCallPattern(t *testing.T) {
	if got := activeCallKey("*"); got != "call:active:*" {
		t.Errorf("activeCallKey(\"*\") = %q", got)
	}
}

func TestTTLMillis(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int64
	}{
		{0, 1},
		{time.Microsecond, 1},
		{500 * time.Millisecond, 500},
		{1500 * time.Millisecond, 1500},
		{time.Hour, 3600000},
	}

	for _, tt := range tests {
		if got := ttlMillis(tt.ttl); got != tt.want {
			t.Errorf("ttlMillis(%v) = %d, want %d", tt.ttl, got, tt.want)
		}
	}
}
