package s3docs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/johndauphine/dsv-extract/internal/driver"
)

type fakeClient struct {
	mu          sync.Mutex
	objects     map[string]string
	bucketErr   error
	listErr     error // yielded at index listErrAt of listing listErrPass
	listErrAt   int
	listErrPass int
	missing     bool
	gets        int

	listings []int // objects yielded per listing
	open     int   // listings not yet finished
}

func (f *fakeClient) Objects(_ context.Context, _ string, prefix string) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)

		f.mu.Lock()
		idx := len(f.listings)
		f.listings = append(f.listings, 0)
		f.open++
		f.mu.Unlock()
		defer func() {
			f.mu.Lock()
			f.open--
			f.mu.Unlock()
		}()

		for i, k := range keys {
			if f.listErr != nil && idx == f.listErrPass && i == f.listErrAt {
				yield(ObjectInfo{}, f.listErr)
				return
			}
			f.mu.Lock()
			f.listings[idx]++
			f.mu.Unlock()
			if !yield(ObjectInfo{Key: k, Size: int64(len(f.objects[k]))}, nil) {
				return
			}
		}
	}
}

func (f *fakeClient) openListings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeClient) Get(_ context.Context, _ string, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.gets++
	f.mu.Unlock()
	body, ok := f.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeClient) BucketExists(context.Context, string) (bool, error) {
	if f.bucketErr != nil {
		return false, f.bucketErr
	}
	return !f.missing, nil
}

var invoiceElements = []driver.Element{
	{Source: "Number", Header: "INVOICE_NO"},
	{Source: "Line", Header: "LINES"},
	{Source: "currency", Header: "CURRENCY"},
	{Source: URIField, Header: URIField},
}

func openSource(t *testing.T, c *fakeClient, opts driver.Options) *Source {
	t.Helper()
	src := NewWithClient(c, opts)
	if err := src.Open(context.Background(), driver.Endpoint{Host: "minio", Port: 9000, Database: "docs"}, driver.Credentials{}); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return src
}

func TestPagedFetch(t *testing.T) {
	c := &fakeClient{objects: map[string]string{
		"inv/1.xml": `<Invoice currency="EUR"><Number>1</Number><Line>a</Line><Line>b</Line></Invoice>`,
		"inv/2.xml": `<Invoice><Number>2</Number></Invoice>`,
		"inv/3.xml": `<Invoice><Number>3</Number><Line>only</Line></Invoice>`,
		"other/x":   `<Invoice/>`,
	}}
	src := openSource(t, c, driver.Options{PageSize: 2, Documents: driver.DocumentOptions{Elements: invoiceElements}})
	defer src.Close()

	stream, err := src.Execute(context.Background(), "inv/")
	if err != nil {
		t.Fatal(err)
	}
	ps := stream.(driver.PageStream)
	defer ps.Close()

	if got := driver.ColumnNames(ps.Columns()); strings.Join(got, ",") != "INVOICE_NO,LINES,CURRENCY,DOC_URI" {
		t.Errorf("Columns() = %v", got)
	}
	if ps.Total() != 0 {
		t.Error("total should be unknown before the first page")
	}

	var pages [][]driver.DocRef
	for {
		page, ok, err := ps.NextPage(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		pages = append(pages, page.Refs)
	}
	if len(pages) != 2 || len(pages[0]) != 2 || len(pages[1]) != 1 {
		t.Fatalf("pages = %v", pages)
	}
	if ps.Total() != 3 {
		t.Errorf("Total() = %d, want 3", ps.Total())
	}

	doc, err := ps.Fetch(context.Background(), pages[0][0])
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"1", "Line1: a Line2: b ", "EUR", "inv/1.xml"}
	if strings.Join(doc.Values, "|") != strings.Join(want, "|") {
		t.Errorf("Values = %q, want %q", doc.Values, want)
	}
}

func TestRootNodeScope(t *testing.T) {
	c := &fakeClient{objects: map[string]string{
		"a.xml": `<Batch><Region>north</Region>
			<Order><Id>1</Id></Order>
			<Order><Id>2</Id></Order></Batch>`,
	}}
	src := openSource(t, c, driver.Options{Documents: driver.DocumentOptions{
		RootNode: "Order",
		Elements: []driver.Element{{Source: "Id", Header: "ID"}, {Source: "Region", Header: "REGION"}},
	}})
	stream, _ := src.Execute(context.Background(), "*")
	ps := stream.(driver.PageStream)
	page, _, _ := ps.NextPage(context.Background())
	doc, err := ps.Fetch(context.Background(), page.Refs[0])
	if err != nil {
		t.Fatal(err)
	}
	if doc.Values[0] != "2" || doc.Values[1] != "north" {
		t.Errorf("Values = %q", doc.Values)
	}
}

func TestJSONDocuments(t *testing.T) {
	c := &fakeClient{objects: map[string]string{
		"c.json": `{"Number": 7, "Line": ["x", "y"], "meta": {"currency": "USD"}}`,
	}}
	src := openSource(t, c, driver.Options{Documents: driver.DocumentOptions{Elements: invoiceElements}})
	stream, _ := src.Execute(context.Background(), "c")
	ps := stream.(driver.PageStream)
	page, _, _ := ps.NextPage(context.Background())
	doc, err := ps.Fetch(context.Background(), page.Refs[0])
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"7", "Line1: x Line2: y ", "USD", "c.json"}
	if strings.Join(doc.Values, "|") != strings.Join(want, "|") {
		t.Errorf("Values = %q", doc.Values)
	}
}

func TestCustomTransformer(t *testing.T) {
	c := &fakeClient{objects: map[string]string{"d.xml": `<r><Number>1</Number></r>`}}
	tr := driver.TransformFunc(func(key string, f map[string][]string) map[string][]string {
		f["Number"] = []string{"override"}
		return f
	})
	src := openSource(t, c, driver.Options{Transformer: tr, Documents: driver.DocumentOptions{Elements: invoiceElements}})
	stream, _ := src.Execute(context.Background(), "d")
	ps := stream.(driver.PageStream)
	page, _, _ := ps.NextPage(context.Background())
	doc, _ := ps.Fetch(context.Background(), page.Refs[0])
	if doc.Values[0] != "override" || doc.Values[3] != "" {
		t.Errorf("Values = %q", doc.Values)
	}
}

func TestFetchErrors(t *testing.T) {
	c := &fakeClient{objects: map[string]string{"bad.xml": `<a><b></a>`}}
	src := openSource(t, c, driver.Options{Documents: driver.DocumentOptions{Format: "json", Elements: invoiceElements}})
	stream, _ := src.Execute(context.Background(), "bad")
	ps := stream.(driver.PageStream)
	if _, err := ps.Fetch(context.Background(), driver.DocRef{Key: "bad.xml"}); err == nil {
		t.Error("expected parse error for non-JSON body")
	}
	if _, err := ps.Fetch(context.Background(), driver.DocRef{Key: "gone.xml"}); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("missing object error = %v", err)
	}
}

func TestOpenLifecycle(t *testing.T) {
	ctx := context.Background()
	ep := driver.Endpoint{Host: "minio", Database: "docs"}

	missing := NewWithClient(&fakeClient{missing: true}, driver.Options{})
	if err := missing.Open(ctx, ep, driver.Credentials{}); !driver.IsConnectionError(err) {
		t.Errorf("missing bucket: %v", err)
	}

	down := NewWithClient(&fakeClient{bucketErr: errors.New("dial tcp: refused")}, driver.Options{})
	if err := down.Open(ctx, ep, driver.Credentials{}); !driver.IsConnectionError(err) {
		t.Errorf("unreachable store: %v", err)
	}

	src := openSource(t, &fakeClient{objects: map[string]string{"a.xml": "<a/>", "b.txt": "x"}}, driver.Options{
		Documents: driver.DocumentOptions{Suffix: ".xml"},
	})
	if err := src.Open(ctx, ep, driver.Credentials{}); err != nil {
		t.Errorf("second Open() should be a no-op: %v", err)
	}
	if n := src.ProbeCount(ctx, "*"); n != 1 {
		t.Errorf("ProbeCount() = %d, want 1", n)
	}
	if err := src.Close(); err != nil {
		t.Fatal(err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("second Close(): %v", err)
	}
	if err := src.Open(ctx, ep, driver.Credentials{}); !errors.Is(err, driver.ErrClosed) {
		t.Errorf("Open after Close = %v, want ErrClosed", err)
	}
}

func TestParseElements(t *testing.T) {
	els, err := ParseElements(strings.NewReader("# comment\nNumber\r\nDate==INVOICE_DATE\n\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(els) != 2 || els[0].Header != "Number" || els[1].Source != "Date" || els[1].Header != "INVOICE_DATE" {
		t.Errorf("elements = %+v", els)
	}
	if _, err := ParseElements(strings.NewReader("a==b==c")); err == nil {
		t.Error("expected error for repeated ==")
	}
	if _, err := ParseElements(strings.NewReader("# only comments")); err == nil {
		t.Error("expected error for empty list")
	}
}

func TestParseEndpoint(t *testing.T) {
	endpoint, secure, err := parseEndpoint("https://minio.example.com", false)
	if err != nil {
		t.Fatal(err)
	}
	if endpoint != "minio.example.com" || !secure {
		t.Errorf("endpoint/secure = %q/%v", endpoint, secure)
	}
	if _, _, err := parseEndpoint(" ", false); err == nil {
		t.Error("expected error for empty endpoint")
	}
}

func TestListingIsReadOnePageAtATime(t *testing.T) {
	objects := map[string]string{"readme.txt": "x"}
	for i := 1; i <= 25; i++ {
		objects[fmt.Sprintf("inv/%02d.xml", i)] = `<Invoice/>`
	}
	objects["inv/notes.txt"] = "skip"
	c := &fakeClient{objects: objects}
	src := openSource(t, c, driver.Options{PageSize: 10, Documents: driver.DocumentOptions{
		Elements: invoiceElements,
		Suffix:   ".xml",
	}})
	defer src.Close()

	stream, err := src.Execute(context.Background(), "inv/")
	if err != nil {
		t.Fatal(err)
	}
	ps := stream.(driver.PageStream)

	page, ok, err := ps.NextPage(context.Background())
	if err != nil || !ok {
		t.Fatalf("NextPage() = %v, %v", ok, err)
	}
	if len(page.Refs) != 10 || page.Refs[0].Key != "inv/01.xml" {
		t.Fatalf("first page = %v", page.Refs)
	}
	if ps.Total() != 25 {
		t.Errorf("Total() = %d, want 25", ps.Total())
	}
	c.mu.Lock()
	listings := append([]int(nil), c.listings...)
	c.mu.Unlock()
	// One full counting pass, then only the first page read from the listing.
	if len(listings) != 2 || listings[0] != 26 || listings[1] != 10 {
		t.Errorf("objects listed per pass = %v, want [26 10]", listings)
	}

	var sizes []int
	for {
		page, ok, err := ps.NextPage(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		sizes = append(sizes, len(page.Refs))
	}
	if fmt.Sprint(sizes) != "[10 5]" {
		t.Errorf("remaining page sizes = %v, want [10 5]", sizes)
	}
	if _, ok, _ := ps.NextPage(context.Background()); ok {
		t.Error("NextPage() after the end returned a page")
	}
	if err := ps.Close(); err != nil {
		t.Fatal(err)
	}
	if n := c.openListings(); n != 0 {
		t.Errorf("%d listings left open", n)
	}
}

func TestCloseStopsListing(t *testing.T) {
	objects := map[string]string{}
	for i := 1; i <= 9; i++ {
		objects[fmt.Sprintf("d%d.xml", i)] = `<r/>`
	}
	c := &fakeClient{objects: objects}
	src := openSource(t, c, driver.Options{PageSize: 2, Documents: driver.DocumentOptions{Elements: invoiceElements}})
	defer src.Close()

	stream, err := src.Execute(context.Background(), "*")
	if err != nil {
		t.Fatal(err)
	}
	ps := stream.(driver.PageStream)
	if _, _, err := ps.NextPage(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := c.openListings(); n != 1 {
		t.Fatalf("open listings = %d, want 1", n)
	}
	ps.Close()
	if n := c.openListings(); n != 0 {
		t.Errorf("open listings after Close = %d, want 0", n)
	}
	if _, _, err := ps.NextPage(context.Background()); !errors.Is(err, driver.ErrClosed) {
		t.Errorf("NextPage() after Close = %v, want ErrClosed", err)
	}
}

func TestListingErrorFailsPage(t *testing.T) {
	tests := []struct {
		name  string
		pass  int
		errAt int
	}{
		{"while counting", 0, 0},
		{"mid listing", 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objects := map[string]string{}
			for i := 1; i <= 6; i++ {
				objects[fmt.Sprintf("d%d.xml", i)] = `<r/>`
			}
			c := &fakeClient{objects: objects, listErr: errors.New("slow down"), listErrAt: tt.errAt, listErrPass: tt.pass}
			src := openSource(t, c, driver.Options{PageSize: 2, Documents: driver.DocumentOptions{Elements: invoiceElements}})
			defer src.Close()

			stream, err := src.Execute(context.Background(), "*")
			if err != nil {
				t.Fatal(err)
			}
			ps := stream.(driver.PageStream)
			defer ps.Close()

			var lastErr error
			for i := 0; i < 10; i++ {
				_, ok, err := ps.NextPage(context.Background())
				if err != nil {
					lastErr = err
					break
				}
				if !ok {
					break
				}
			}
			if lastErr == nil || !strings.Contains(lastErr.Error(), "slow down") {
				t.Errorf("NextPage() error = %v, want listing error", lastErr)
			}
		})
	}
}
