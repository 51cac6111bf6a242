package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func writeRows(t *testing.T, w *Writer, base string, n int) *Chunk {
	t.Helper()
	c, err := w.Open(base, []string{"ID", "NAME"})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	for i := 0; i < n; i++ {
		c, err = w.RotateIfNeeded(c, int64(i))
		if err != nil {
			t.Fatalf("RotateIfNeeded(%d) error: %v", i, err)
		}
		if err := c.WriteRow(fmt.Sprintf(`%d|"row%d"`, i+1, i+1)); err != nil {
			t.Fatalf("WriteRow() error: %v", err)
		}
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	return c
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Options{Dir: dir, Delimiter: "|", ChunkSize: 3, FlushEvery: 2})
	if err != nil {
		t.Fatal(err)
	}
	last := writeRows(t, w, "orders", 7)
	if last.Index != 3 {
		t.Errorf("last chunk index = %d, want 3", last.Index)
	}

	wantRows := []int{3, 3, 1}
	for i, want := range wantRows {
		content := readFile(t, filepath.Join(dir, fmt.Sprintf("orders.%d.dsv", i+1)))
		lines := strings.Split(content, RowSeparator)
		if lines[0] != "ID|NAME" {
			t.Errorf("chunk %d header = %q", i+1, lines[0])
		}
		if got := len(lines) - 1; got != want {
			t.Errorf("chunk %d rows = %d, want %d", i+1, got, want)
		}
		if strings.HasSuffix(content, RowSeparator) {
			t.Errorf("chunk %d ends with a separator", i+1)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "orders.4.dsv")); !os.IsNotExist(err) {
		t.Error("unexpected fourth chunk")
	}

	second := readFile(t, filepath.Join(dir, "orders.2.dsv"))
	if second != "ID|NAME\r\n4|\"row4\"\r\n5|\"row5\"\r\n6|\"row6\"" {
		t.Errorf("chunk 2 = %q", second)
	}
}

func TestNoHeader(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Options{Dir: dir, Delimiter: "|", NoHeader: true})
	if err != nil {
		t.Fatal(err)
	}
	writeRows(t, w, "plain", 2)
	got := readFile(t, filepath.Join(dir, "plain.1.dsv"))
	if got != "1|\"row1\"\r\n2|\"row2\"" {
		t.Errorf("content = %q", got)
	}
}

func TestEmptyResultWritesHeader(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Options{Dir: dir, Delimiter: ",", ChunkSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	c := writeRows(t, w, "empty", 0)
	if c.RowsWritten != 0 {
		t.Errorf("RowsWritten = %d", c.RowsWritten)
	}
	if got := readFile(t, filepath.Join(dir, "empty.1.dsv")); got != "ID,NAME" {
		t.Errorf("content = %q", got)
	}
}

func TestCloseIdempotent(t *testing.T) {
	w, err := New(Options{Dir: t.TempDir(), Delimiter: "|"})
	if err != nil {
		t.Fatal(err)
	}
	c, err := w.Open("x", []string{"A"})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if err := c.WriteRow("1"); err == nil {
		t.Error("expected error writing to closed chunk")
	}
}

func TestShouldRotate(t *testing.T) {
	tests := []struct {
		rows, size int64
		want       bool
	}{
		{0, 3, false},
		{3, 3, true},
		{4, 3, false},
		{6, 3, true},
		{5, 0, false},
	}
	for _, tt := range tests {
		if got := ShouldRotate(tt.rows, tt.size); got != tt.want {
			t.Errorf("ShouldRotate(%d, %d) = %v, want %v", tt.rows, tt.size, got, tt.want)
		}
	}
}

func TestBytesMatchesFileSize(t *testing.T) {
	for _, noHeader := range []bool{false, true} {
		dir := t.TempDir()
		w, err := New(Options{Dir: dir, Delimiter: "|", NoHeader: noHeader})
		if err != nil {
			t.Fatal(err)
		}
		for _, n := range []int{0, 1, 4} {
			base := fmt.Sprintf("sized%d", n)
			c := writeRows(t, w, base, n)
			info, err := os.Stat(filepath.Join(dir, base+".1.dsv"))
			if err != nil {
				t.Fatal(err)
			}
			if c.Bytes != info.Size() {
				t.Errorf("noHeader=%v rows=%d: Bytes = %d, file size = %d", noHeader, n, c.Bytes, info.Size())
			}
		}
	}
}

func TestAbandonDropsBufferedRows(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Options{Dir: dir, Delimiter: "|", FlushEvery: 100})
	if err != nil {
		t.Fatal(err)
	}
	c, err := w.Open("partial", []string{"A"})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.WriteRow("1"); err != nil {
		t.Fatal(err)
	}
	c.Abandon()
	c.Abandon()

	if got := readFile(t, filepath.Join(dir, "partial.1.dsv")); got != "" {
		t.Errorf("abandoned chunk content = %q, want nothing flushed", got)
	}
	if err := c.WriteRow("2"); err != ErrAbandoned {
		t.Errorf("WriteRow() after Abandon = %v, want ErrAbandoned", err)
	}
	if err := c.Close(); err != ErrAbandoned {
		t.Errorf("Close() after Abandon = %v, want ErrAbandoned", err)
	}
}

func TestAbandonAfterCloseKeepsFile(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Options{Dir: dir, Delimiter: "|"})
	if err != nil {
		t.Fatal(err)
	}
	c := writeRows(t, w, "done", 1)
	c.Abandon()
	if err := c.Close(); err != nil {
		t.Errorf("Close() after Abandon of closed chunk: %v", err)
	}
	if got := readFile(t, filepath.Join(dir, "done.1.dsv")); got != "ID|NAME\r\n1|\"row1\"" {
		t.Errorf("content = %q", got)
	}
}
