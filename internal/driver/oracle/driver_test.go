package oracle

import (
	"net/url"
	"testing"

	"github.com/johndauphine/dsv-extract/internal/driver"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name      string
		params    map[string]string
		database  string
		wantPath  string
		wantSID   string
		wantError bool
	}{
		{name: "service name", params: map[string]string{"service_name": "ORCLPDB"}, wantPath: "/ORCLPDB"},
		{name: "database as service", database: "XE", wantPath: "/XE"},
		{name: "sid", params: map[string]string{"sid": "ORCL"}, wantPath: "/", wantSID: "ORCL"},
		{name: "sid ignores database", params: map[string]string{"sid": "ORCL"}, database: "XE", wantPath: "/", wantSID: "ORCL"},
		{name: "both", params: map[string]string{"sid": "A", "service_name": "B"}, wantError: true},
		{name: "neither", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := driver.Endpoint{Host: "ora01", Port: 1521, Database: tt.database, Params: tt.params}
			dsn, err := BuildDSN(ep, driver.Credentials{User: "scott", Password: "tiger"}, driver.Options{FetchSize: 500})
			if tt.wantError {
				if err == nil {
					t.Fatalf("expected error, got %s", dsn)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			u, err := url.Parse(dsn)
			if err != nil {
				t.Fatalf("parse %s: %v", dsn, err)
			}
			if u.Scheme != "oracle" || u.Host != "ora01:1521" {
				t.Errorf("dsn = %s", dsn)
			}
			if u.Path != tt.wantPath {
				t.Errorf("path = %q, want %q", u.Path, tt.wantPath)
			}
			if got := u.Query().Get("SID"); got != tt.wantSID {
				t.Errorf("SID = %q, want %q", got, tt.wantSID)
			}
			if u.Query().Get("PREFETCH_ROWS") != "500" {
				t.Errorf("prefetch missing: %s", dsn)
			}
		})
	}
}
