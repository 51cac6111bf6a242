package s3docs

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/johndauphine/dsv-extract/internal/driver"
)

// URIField is the field the default transformer adds with the document key.
const URIField = "DOC_URI"

// fields collects element values in document order.
type fields map[string][]string

func (f fields) add(name, value string) {
	f[name] = append(f[name], value)
}

func (f fields) merge(other fields) {
	for k, vs := range other {
		f[k] = append(f[k], vs...)
	}
}

// scope separates values inside the configured root node from the context
// around it. Only the last root occurrence is kept.
type scope struct {
	root    string
	outside fields
	inside  fields
	depth   int
}

func newScope(root string) *scope {
	return &scope{root: root, outside: fields{}}
}

func (s *scope) enter(name string) {
	if s.root == "" {
		return
	}
	if s.depth > 0 {
		s.depth++
		return
	}
	if name == s.root {
		s.depth = 1
		s.inside = fields{}
	}
}

func (s *scope) leave() {
	if s.depth > 0 {
		s.depth--
	}
}

func (s *scope) add(name, value string) {
	if s.depth > 0 {
		s.inside.add(name, value)
		return
	}
	s.outside.add(name, value)
}

func (s *scope) result() fields {
	if s.root == "" || s.inside == nil {
		return s.outside
	}
	out := fields{}
	out.merge(s.inside)
	out.merge(s.outside)
	return out
}

type xmlFrame struct {
	name string
	text strings.Builder
}

// parseXML collects the direct text of every element. Attributes become
// fields named after the attribute.
func parseXML(r io.Reader, root string) (fields, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	sc := newScope(root)
	var stack []*xmlFrame

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			sc.enter(t.Name.Local)
			for _, a := range t.Attr {
				sc.add(a.Name.Local, a.Value)
			}
			stack = append(stack, &xmlFrame{name: t.Name.Local})
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			sc.add(top.name, strings.TrimSpace(top.text.String()))
			sc.leave()
		}
	}
	return sc.result(), nil
}

// parseJSON flattens a JSON document. Object keys name fields; arrays repeat
// the enclosing key.
func parseJSON(r io.Reader, root string) (fields, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing json: %w", err)
	}
	sc := newScope(root)
	walkJSON(sc, "", doc)
	return sc.result(), nil
}

func walkJSON(sc *scope, name string, v any) {
	switch x := v.(type) {
	case map[string]any:
		if name != "" {
			sc.enter(name)
			defer sc.leave()
		}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkJSON(sc, k, x[k])
		}
	case []any:
		for _, item := range x {
			walkJSON(sc, name, item)
		}
	case nil:
		if name != "" {
			sc.add(name, "")
		}
	case string:
		sc.add(name, x)
	case json.Number:
		sc.add(name, x.String())
	case bool:
		sc.add(name, strconv.FormatBool(x))
	default:
		sc.add(name, fmt.Sprint(x))
	}
}

// value reduces the values of one element to a single field. Repeated
// elements are merged as "name1: a name2: b ".
func value(name string, vs []string) string {
	switch len(vs) {
	case 0:
		return ""
	case 1:
		return vs[0]
	}
	var sb strings.Builder
	for i, v := range vs {
		fmt.Fprintf(&sb, "%s%d: %s ", name, i+1, v)
	}
	return sb.String()
}

// align orders the collected values by the configured elements.
func align(f fields, elements []driver.Element) []string {
	out := make([]string, len(elements))
	for i, el := range elements {
		out[i] = value(el.Source, f[el.Source])
	}
	return out
}

// ParseElements reads an elements list: one element per line, "#" comments,
// optional "source==Header" renaming.
func ParseElements(r io.Reader) ([]driver.Element, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading elements: %w", err)
	}
	var out []driver.Element
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "==")
		switch len(parts) {
		case 1:
			out = append(out, driver.Element{Source: line, Header: line})
		case 2:
			src, header := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
			if src == "" || header == "" {
				return nil, fmt.Errorf("elements line %d: empty side of ==: %q", i+1, line)
			}
			out = append(out, driver.Element{Source: src, Header: header})
		default:
			return nil, fmt.Errorf("elements line %d: too many instances of ==: %q", i+1, line)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("elements list is empty")
	}
	return out, nil
}
