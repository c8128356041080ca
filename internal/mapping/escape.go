package mapping

import "fmt"

// DecodeEscapes turns the textual escapes used in mapping files into raw
// bytes: \xHH, \\, \n, \r, \t and \0. A backslash followed by anything else
// is kept as-is. The loader applies it to plain and single-quoted scalars
// only; single quotes are the way to spell bytes >= 0x80.
func DecodeEscapes(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			out = append(out, c)
			continue
		}
		switch s[i+1] {
		case 'x', 'X':
			if i+3 >= len(s) {
				return nil, fmt.Errorf("truncated \\x escape at offset %d", i)
			}
			hi, ok1 := unhex(s[i+2])
			lo, ok2 := unhex(s[i+3])
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("invalid \\x escape %q at offset %d", s[i:i+4], i)
			}
			out = append(out, hi<<4|lo)
			i += 3
		case '\\':
			out = append(out, '\\')
			i++
		case 'n':
			out = append(out, '\n')
			i++
		case 'r':
			out = append(out, '\r')
			i++
		case 't':
			out = append(out, '\t')
			i++
		case '0':
			out = append(out, 0)
			i++
		default:
			out = append(out, c)
		}
	}
	return out, nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
