package source

import (
	"strings"
	"testing"

	"github.com/johndauphine/dsv-extract/internal/config"
)

func TestNew(t *testing.T) {
	cfg := &config.Config{Source: config.SourceConfig{Type: "sqlite", Path: "/tmp/data.db"}}
	target, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if target.Source == nil || target.Endpoint.Path != "/tmp/data.db" {
		t.Errorf("target = %+v", target)
	}

	cfg.Source.Type = "mongodb"
	if _, err := New(cfg, nil); err == nil || !strings.Contains(err.Error(), "unsupported source type") {
		t.Errorf("New(mongodb) error = %v", err)
	}
}
