package relay

import "bytes"

// Frame encodes msg as exactly one line: backslash, LF and CR are escaped
// and a single LF terminator is appended. A line-oriented reader recovers
// the original bytes with Unframe.
func Frame(msg []byte) []byte {
	var b bytes.Buffer
	b.Grow(len(msg) + 1)
	for _, c := range msg {
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('\n')
	return b.Bytes()
}

// Unframe reverses Frame for a single line. The terminator may be present
// or already stripped. Unknown escapes are kept verbatim.
func Unframe(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	out := make([]byte, 0, len(line))
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c != '\\' || i+1 == len(line) {
			out = append(out, c)
			continue
		}
		i++
		switch line[i] {
		case '\\':
			out = append(out, '\\')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		default:
			out = append(out, '\\', line[i])
		}
	}
	return out
}
