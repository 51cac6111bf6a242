package s3docs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"github.com/johndauphine/dsv-extract/internal/driver"
	"github.com/johndauphine/dsv-extract/internal/logging"
)

// DefaultPageSize is used when no page size is configured.
const DefaultPageSize = 10000

// Source reads XML or JSON documents from an S3-compatible bucket. The
// catalog query names the key prefix to extract.
type Source struct {
	opts     driver.Options
	injected client

	mu     sync.Mutex
	client client
	bucket string
	ep     driver.Endpoint
	opened bool
	closed bool
}

// NewSource creates an unopened document source.
func NewSource(opts driver.Options) *Source {
	return &Source{opts: opts}
}

// NewWithClient creates a source that uses c instead of dialing.
func NewWithClient(c client, opts driver.Options) *Source {
	return &Source{opts: opts, injected: c}
}

// Open creates the client and checks that the bucket exists. A source is
// opened at most once per run.
func (s *Source) Open(ctx context.Context, ep driver.Endpoint, cred driver.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return driver.ErrClosed
	}
	if s.opened {
		return nil
	}
	s.ep = ep
	s.bucket = strings.TrimSpace(ep.Database)
	if s.bucket == "" {
		return s.connErr(errors.New("bucket is required"))
	}

	c := s.injected
	if c == nil {
		endpoint := ep.Param("endpoint")
		if endpoint == "" {
			endpoint = ep.Address()
		}
		mc, err := newMinioClient(clientConfig{
			Endpoint:        endpoint,
			Region:          ep.Param("region"),
			AccessKeyID:     cred.User,
			SecretAccessKey: cred.Password,
			UseSSL:          ep.BoolParam("use_ssl"),
		})
		if err != nil {
			return s.connErr(err)
		}
		c = mc
	}

	exists, err := c.BucketExists(ctx, s.bucket)
	if err != nil {
		return s.connErr(err)
	}
	if !exists {
		return s.connErr(fmt.Errorf("bucket %q does not exist", s.bucket))
	}
	s.client = c
	s.opened = true

	logging.Info("Connected to document store: %s (bucket %s)", ep.Address(), s.bucket)
	return nil
}

func (s *Source) connErr(err error) error {
	return &driver.ConnectionError{Driver: "s3docs", Endpoint: s.ep.String(), Err: err}
}

func (s *Source) active() (client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, driver.ErrClosed
	}
	if !s.opened {
		return nil, errors.New("source is not open")
	}
	return s.client, nil
}

// Execute returns a page stream over every document under the prefix named
// by query. "*" and "/" select the whole bucket.
func (s *Source) Execute(ctx context.Context, query string) (driver.Stream, error) {
	c, err := s.active()
	if err != nil {
		return nil, err
	}
	if len(s.opts.Documents.Elements) == 0 {
		return nil, errors.New("no document elements configured")
	}
	pageSize := s.opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	transformer := s.opts.Transformer
	if transformer == nil {
		transformer = DefaultTransformer
	}
	cols := make([]driver.Column, len(s.opts.Documents.Elements))
	for i, el := range s.opts.Documents.Elements {
		cols[i] = driver.Column{Name: el.Header, DatabaseType: "TEXT"}
	}
	return &pageStream{
		client:      c,
		bucket:      s.bucket,
		prefix:      normalizePrefix(query),
		pageSize:    pageSize,
		docs:        s.opts.Documents,
		transformer: transformer,
		cols:        cols,
	}, nil
}

// ProbeCount returns the number of documents under the prefix named by query.
func (s *Source) ProbeCount(ctx context.Context, query string) int64 {
	if strings.TrimSpace(query) == "" {
		return 0
	}
	c, err := s.active()
	if err != nil {
		return 0
	}
	n, err := countObjects(ctx, c, s.bucket, normalizePrefix(query), s.opts.Documents.Suffix)
	if err != nil {
		logging.Warn("Document count failed: %v", err)
		return 0
	}
	return n
}

// Ping checks that the bucket is still reachable.
func (s *Source) Ping(ctx context.Context) error {
	c, err := s.active()
	if err != nil {
		return s.connErr(err)
	}
	if _, err := c.BucketExists(ctx, s.bucket); err != nil {
		return s.connErr(err)
	}
	return nil
}

// Close releases the client. Later calls return nil.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.client = nil
	return nil
}

func normalizePrefix(query string) string {
	q := strings.TrimSpace(query)
	if q == "*" || q == "/" {
		return ""
	}
	return strings.TrimPrefix(q, "/")
}

func matchSuffix(key, suffix string) bool {
	return suffix == "" || strings.HasSuffix(strings.ToLower(key), strings.ToLower(suffix))
}

// countObjects counts the documents under prefix without keeping their keys.
func countObjects(ctx context.Context, c client, bucket, prefix, suffix string) (int64, error) {
	var n int64
	for o, err := range c.Objects(ctx, bucket, prefix) {
		if err != nil {
			return n, err
		}
		if matchSuffix(o.Key, suffix) {
			n++
		}
	}
	return n, nil
}

// DefaultTransformer adds the document key as DOC_URI.
var DefaultTransformer = driver.TransformFunc(func(key string, f map[string][]string) map[string][]string {
	f[URIField] = []string{key}
	return f
})

type pageStream struct {
	client      client
	bucket      string
	prefix      string
	pageSize    int
	docs        driver.DocumentOptions
	transformer driver.Transformer
	cols        []driver.Column

	mu      sync.Mutex
	counted bool
	total   int64
	next    func() (ObjectInfo, error, bool)
	stop    func()
	done    bool
	page    int
	closed  bool
}

func (p *pageStream) Columns() []driver.Column { return p.cols }

// NextPage counts the prefix on first use, so Total is known once the first
// page has been returned, then reads the listing one page at a time. Only
// the current page of keys is held in memory.
func (p *pageStream) NextPage(ctx context.Context) (driver.Page, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return driver.Page{}, false, driver.ErrClosed
	}
	if !p.counted {
		n, err := countObjects(ctx, p.client, p.bucket, p.prefix, p.docs.Suffix)
		if err != nil {
			return driver.Page{}, false, fmt.Errorf("listing documents: %w", err)
		}
		p.total = n
		p.counted = true
		p.next, p.stop = iter.Pull2(p.client.Objects(ctx, p.bucket, p.prefix))
	}

	var refs []driver.DocRef
	for !p.done && len(refs) < p.pageSize {
		o, err, ok := p.next()
		if !ok {
			p.done = true
			p.stop()
			break
		}
		if err != nil {
			p.done = true
			p.stop()
			return driver.Page{}, false, fmt.Errorf("listing documents: %w", err)
		}
		if matchSuffix(o.Key, p.docs.Suffix) {
			refs = append(refs, driver.DocRef{Key: o.Key, Size: o.Size})
		}
	}
	if len(refs) == 0 {
		return driver.Page{}, false, nil
	}
	p.page++
	return driver.Page{Number: p.page, Refs: refs}, true, nil
}

// Total is the count taken before the first page. Objects written under the
// prefix during the run may make the listing run past it.
func (p *pageStream) Total() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Fetch reads one document and reduces it to the configured columns.
func (p *pageStream) Fetch(ctx context.Context, ref driver.DocRef) (driver.Document, error) {
	body, err := p.client.Get(ctx, p.bucket, ref.Key)
	if err != nil {
		return driver.Document{}, fmt.Errorf("get document %q: %w", ref.Key, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return driver.Document{}, fmt.Errorf("read document %q: %w", ref.Key, err)
	}

	var f fields
	if isJSON(p.docs.Format, ref.Key) {
		f, err = parseJSON(bytes.NewReader(data), p.docs.RootNode)
	} else {
		f, err = parseXML(bytes.NewReader(data), p.docs.RootNode)
	}
	if err != nil {
		return driver.Document{}, fmt.Errorf("document %q: %w", ref.Key, err)
	}
	f = p.transformer.Transform(ref.Key, f)
	return driver.Document{Key: ref.Key, Values: align(f, p.docs.Elements)}, nil
}

func isJSON(format, key string) bool {
	switch strings.ToLower(format) {
	case "json":
		return true
	case "xml":
		return false
	}
	return strings.HasSuffix(strings.ToLower(key), ".json")
}

func (p *pageStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.stop != nil {
		p.stop()
	}
	return nil
}
