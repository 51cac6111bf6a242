package encode

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	periodControlRun      = regexp.MustCompile(`\.[\t\n\r]+`)
	periodSpaceControlRun = regexp.MustCompile(`\. [\t\n\r]+`)
	controlRun            = regexp.MustCompile(`[\t\n\r]+`)

	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	inlineSpace  = regexp.MustCompile(`[^\S\n]+`)

	markup = strings.NewReplacer("&", "-", "<", "-", ">", "-")
)

// StripInvalidXML drops runes outside the XML 1.0 character range.
// Tab, CR and LF are kept.
func StripInvalidXML(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r == utf8.RuneError:
			return -1
		case r >= 0x20 && r <= 0xD7FF:
			return r
		case r >= 0xE000 && r <= 0xFFFD:
			return r
		case r >= 0x10000 && r <= 0x10FFFF:
			return r
		}
		return -1
	}, s)
}

// EscapeQuotes doubles every embedded double quote.
func EscapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `""`)
}

// ReplaceDelimiter swaps each occurrence of delimiter for a single space.
func ReplaceDelimiter(s, delimiter string) string {
	if delimiter == "" {
		return s
	}
	return strings.ReplaceAll(s, delimiter, " ")
}

// CollapseLineBreaks turns runs of tab/CR/LF into ". " so a value never spans
// output lines. A run that already follows a full stop does not gain a second one.
func CollapseLineBreaks(s string) string {
	s = periodControlRun.ReplaceAllString(s, ". ")
	s = periodSpaceControlRun.ReplaceAllString(s, ". ")
	return controlRun.ReplaceAllString(s, ". ")
}

// ReplaceMarkup replaces &, < and > with '-'.
func ReplaceMarkup(s string) string {
	return markup.Replace(s)
}

// CleanText applies the character-field cleaning sequence without quoting.
func CleanText(s, delimiter string) string {
	s = StripInvalidXML(s)
	s = EscapeQuotes(s)
	s = ReplaceDelimiter(s, delimiter)
	return CollapseLineBreaks(s)
}

// CleanQueryText normalizes a query for execution: block comments removed,
// whitespace other than newlines collapsed, trailing semicolon stripped.
func CleanQueryText(q string) string {
	q = blockComment.ReplaceAllString(q, " ")
	q = inlineSpace.ReplaceAllString(q, " ")
	q = strings.TrimSpace(q)
	q = strings.TrimSuffix(q, ";")
	return strings.TrimSpace(q)
}

// StripLineComment cuts a physical line at the first "--".
func StripLineComment(line string) string {
	if i := strings.Index(line, "--"); i >= 0 {
		return line[:i]
	}
	return line
}
