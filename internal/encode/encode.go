// Package encode renders typed source values as delimiter-separated text.
//
// The rendering is chosen from the column's declared type, matched by
// case-insensitive substring in this order: CHAR, TEXT, TIMESTAMP/DATE,
// CLOB, BLOB. Anything unmatched uses the value's plain string form.
package encode

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// DefaultLayout is the timestamp layout used when none is configured.
const DefaultLayout = "2006-01-02T15:04:05"

// EncodingError reports a value whose shape does not fit its declared type.
// The affected field is rendered empty.
type EncodingError struct {
	DeclaredType string
	Value        any
	Err          error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encoding %T as %s: %v", e.Value, e.DeclaredType, e.Err)
	}
	return fmt.Sprintf("encoding %T as %s: unsupported value", e.Value, e.DeclaredType)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

type kind int

const (
	kindDefault kind = iota
	kindText
	kindTime
	kindCLOB
	kindBLOB
)

func classify(declaredType string) kind {
	t := strings.ToUpper(declaredType)
	switch {
	case strings.Contains(t, "CHAR"), strings.Contains(t, "TEXT"):
		return kindText
	case strings.Contains(t, "TIMESTAMP"), strings.Contains(t, "DATE"):
		return kindTime
	case strings.Contains(t, "CLOB"):
		return kindCLOB
	case strings.Contains(t, "BLOB"):
		return kindBLOB
	}
	return kindDefault
}

// Value renders one field. Errors degrade the field to the empty string.
func Value(v any, declaredType, delimiter, layout string) string {
	s, err := Field(v, declaredType, delimiter, layout)
	if err != nil {
		return ""
	}
	return s
}

// Field renders one field and reports shape mismatches as *EncodingError.
func Field(v any, declaredType, delimiter, layout string) (string, error) {
	if isEmpty(v) {
		return "", nil
	}
	if layout == "" {
		layout = DefaultLayout
	}

	var (
		out string
		err error
	)
	switch classify(declaredType) {
	case kindText, kindCLOB:
		var s string
		if s, err = materialize(v); err == nil {
			out = quote(CleanText(s, delimiter))
		}
	case kindTime:
		out, err = formatTime(v, layout)
	case kindBLOB:
		var b []byte
		if b, err = materializeBytes(v); err == nil {
			out = quote(byteList(b))
		}
	default:
		out = plain(v, layout)
	}
	if err != nil {
		return "", &EncodingError{DeclaredType: declaredType, Value: v, Err: err}
	}
	return ReplaceMarkup(out), nil
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []byte:
		return len(x) == 0
	case *time.Time:
		return x == nil
	}
	return false
}

func quote(s string) string {
	return `"` + s + `"`
}

func materialize(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case io.Reader:
		b, err := io.ReadAll(x)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	return fmt.Sprint(v), nil
}

func materializeBytes(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	case io.Reader:
		return io.ReadAll(x)
	}
	return nil, fmt.Errorf("not a binary value")
}

// byteList renders bytes as signed decimals, e.g. [1, -2, 3].
func byteList(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 4)
	sb.WriteByte('[')
	for i, c := range b {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.Itoa(int(int8(c))))
	}
	sb.WriteByte(']')
	return sb.String()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func formatTime(v any, layout string) (string, error) {
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = x
	case *time.Time:
		t = *x
	case string:
		parsed, err := parseTime(x)
		if err != nil {
			return "", err
		}
		t = parsed
	case []byte:
		parsed, err := parseTime(string(x))
		if err != nil {
			return "", err
		}
		t = parsed
	default:
		return "", fmt.Errorf("not a timestamp")
	}
	if t.IsZero() {
		return "", nil
	}
	return t.Format(layout), nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func plain(v any, layout string) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format(layout)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// Encoder binds the delimiter and timestamp layout for a run.
type Encoder struct {
	Delimiter string
	Layout    string
}

// New returns an Encoder. An empty layout selects DefaultLayout.
func New(delimiter, layout string) *Encoder {
	if layout == "" {
		layout = DefaultLayout
	}
	return &Encoder{Delimiter: delimiter, Layout: layout}
}

// Value renders one field.
func (e *Encoder) Value(v any, declaredType string) string {
	return Value(v, declaredType, e.Delimiter, e.Layout)
}

// Row renders a full row. types[i] is the declared type of values[i].
func (e *Encoder) Row(values []any, types []string) string {
	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			sb.WriteString(e.Delimiter)
		}
		var declared string
		if i < len(types) {
			declared = types[i]
		}
		sb.WriteString(e.Value(v, declared))
	}
	return sb.String()
}

// Header joins column names with the delimiter.
func (e *Encoder) Header(names []string) string {
	return strings.Join(names, e.Delimiter)
}
