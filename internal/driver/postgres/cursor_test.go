package postgres

import (
	"context"
	"net/url"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/johndauphine/dsv-extract/internal/driver"
)

func TestCursorStreamsInBatches(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	base := driver.NewSQLSourceFromDB(db, driver.SQLConfig{Name: "postgres", Options: driver.Options{FetchSize: 2}})
	src := NewSource(base)
	ctx := context.Background()
	if err := src.Open(ctx, driver.Endpoint{Host: "pg"}, driver.Credentials{}); err != nil {
		t.Fatal(err)
	}

	cols := []*sqlmock.Column{
		sqlmock.NewColumn("id").OfType("INT4", int64(0)),
		sqlmock.NewColumn("name").OfType("TEXT", ""),
	}
	mock.ExpectBegin()
	mock.ExpectExec("DECLARE dsv_extract_cursor NO SCROLL CURSOR FOR SELECT id, name FROM t").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FETCH FORWARD 2 FROM dsv_extract_cursor").
		WillReturnRows(sqlmock.NewRowsWithColumnDefinition(cols...).AddRow(int64(1), "a").AddRow(int64(2), "b"))
	mock.ExpectQuery("FETCH FORWARD 2 FROM dsv_extract_cursor").
		WillReturnRows(sqlmock.NewRowsWithColumnDefinition(cols...).AddRow(int64(3), "c"))
	mock.ExpectExec("CLOSE dsv_extract_cursor").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	stream, err := src.Execute(ctx, "SELECT id, name FROM t")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	rs := stream.(driver.RowStream)
	if got := driver.ColumnNames(rs.Columns()); len(got) != 2 || got[1] != "name" {
		t.Errorf("Columns() = %v", got)
	}

	var ids []int64
	for rs.Next() {
		vals, err := rs.Values()
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, vals[0].(int64))
	}
	if err := rs.Err(); err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[2] != 3 {
		t.Errorf("ids = %v", ids)
	}
	if err := rs.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestBuildDSN(t *testing.T) {
	dsn, err := BuildDSN(driver.Endpoint{
		Host: "pg", Port: 5432, Database: "sales",
		Params: map[string]string{"ssl_mode": "disable", "schema": "reporting"},
	}, driver.Credentials{User: "u", Password: "p:w"}, driver.Options{})
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatal(err)
	}
	if u.Path != "/sales" || u.Query().Get("sslmode") != "disable" || u.Query().Get("search_path") != "reporting" {
		t.Errorf("dsn = %s", dsn)
	}
	if _, err := openDB(dsn); err != nil {
		t.Errorf("openDB() error: %v", err)
	}
}
