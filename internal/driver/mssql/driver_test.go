package mssql

import (
	"net/url"
	"testing"

	"github.com/johndauphine/dsv-extract/internal/driver"
)

func TestBuildDSN(t *testing.T) {
	ep := driver.Endpoint{
		Host:     "sql01",
		Port:     1433,
		Database: "Sales DB",
		Params: map[string]string{
			"encrypt":           "false",
			"trust_server_cert": "true",
			"packet_size":       "32767",
		},
	}
	dsn, err := BuildDSN(ep, driver.Credentials{User: "svc", Password: "p@ss word"}, driver.Options{})
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("DSN is not a URL: %v", err)
	}
	if u.Scheme != "sqlserver" || u.Host != "sql01:1433" {
		t.Errorf("dsn = %s", dsn)
	}
	if pw, _ := u.User.Password(); u.User.Username() != "svc" || pw != "p@ss word" {
		t.Errorf("credentials not round-tripped: %s", dsn)
	}
	q := u.Query()
	if q.Get("database") != "Sales DB" || q.Get("encrypt") != "false" ||
		q.Get("TrustServerCertificate") != "true" || q.Get("packet size") != "32767" {
		t.Errorf("query = %v", q)
	}
}

func TestBuildDSNIntegrated(t *testing.T) {
	dsn, err := BuildDSN(driver.Endpoint{Host: "sql01", Port: 1433},
		driver.Credentials{User: "ignored", Integrated: true}, driver.Options{})
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(dsn)
	if u.User != nil {
		t.Errorf("integrated auth should omit user info: %s", dsn)
	}
}

func TestBuildDSNRequiresHost(t *testing.T) {
	if _, err := BuildDSN(driver.Endpoint{}, driver.Credentials{}, driver.Options{}); err == nil {
		t.Error("expected error without host")
	}
}

func TestNormalize(t *testing.T) {
	raw := []byte{0x67, 0x45, 0x23, 0x01, 0xAB, 0x89, 0xEF, 0xCD, 0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF}
	got := Normalize(raw, "UNIQUEIDENTIFIER")
	if got != "01234567-89AB-CDEF-0123-456789ABCDEF" {
		t.Errorf("Normalize() = %v", got)
	}
	if Normalize("x", "VARCHAR") != "x" {
		t.Error("non-GUID values pass through")
	}
}

func TestRegistered(t *testing.T) {
	d, err := driver.Get("sqlserver")
	if err != nil {
		t.Fatal(err)
	}
	if d.Defaults().Port != 1433 {
		t.Errorf("default port = %d", d.Defaults().Port)
	}
}
