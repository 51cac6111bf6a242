package config

import "strings"

// Layout translates a SimpleDateFormat-style pattern such as
// "yyyy-MM-dd'T'HH:mm:ss" into a Go time layout. Patterns that already
// contain the Go reference year are returned unchanged.
func Layout(pattern string) string {
	if strings.Contains(pattern, "2006") {
		return pattern
	}

	var sb strings.Builder
	rs := []rune(pattern)
	for i := 0; i < len(rs); {
		c := rs[i]

		if c == '\'' {
			// '' is a literal quote, otherwise copy up to the closing quote.
			if i+1 < len(rs) && rs[i+1] == '\'' {
				sb.WriteRune('\'')
				i += 2
				continue
			}
			j := i + 1
			for j < len(rs) {
				if rs[j] == '\'' {
					if j+1 < len(rs) && rs[j+1] == '\'' {
						sb.WriteRune('\'')
						j += 2
						continue
					}
					break
				}
				sb.WriteRune(rs[j])
				j++
			}
			i = j + 1
			continue
		}

		n := 1
		for i+n < len(rs) && rs[i+n] == c {
			n++
		}
		sb.WriteString(field(c, n))
		i += n
	}
	return sb.String()
}

func field(c rune, n int) string {
	switch c {
	case 'y', 'Y', 'u':
		if n == 2 {
			return "06"
		}
		return "2006"
	case 'M', 'L':
		switch {
		case n == 1:
			return "1"
		case n == 2:
			return "01"
		case n == 3:
			return "Jan"
		}
		return "January"
	case 'd':
		if n == 1 {
			return "2"
		}
		return "02"
	case 'H', 'k':
		return "15"
	case 'h', 'K':
		if n == 1 {
			return "3"
		}
		return "03"
	case 'm':
		if n == 1 {
			return "4"
		}
		return "04"
	case 's':
		if n == 1 {
			return "5"
		}
		return "05"
	case 'S':
		return strings.Repeat("0", n)
	case 'a':
		return "PM"
	case 'E':
		if n >= 4 {
			return "Monday"
		}
		return "Mon"
	case 'z':
		return "MST"
	case 'Z':
		return "-0700"
	case 'X':
		switch n {
		case 1:
			return "Z07"
		case 2:
			return "Z0700"
		}
		return "Z07:00"
	}
	return strings.Repeat(string(c), n)
}
