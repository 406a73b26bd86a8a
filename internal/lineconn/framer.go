package lineconn

// Framer accumulates arbitrary byte chunks from one socket and yields
// complete lines as they appear: repeatedly, the prefix up to and
// including the first LF (with an optional CR right before it) is
// stripped and emitted without its terminator; a lone CR with no following LF is not a terminator and
// stays buffered.
type Framer struct {
	buf []byte
}

// Feed appends data to the buffer and returns every complete line found,
// in order. Partial trailing bytes remain buffered for the next call.
func (f *Framer) Feed(data []byte) []string {
	f.buf = append(f.buf, data...)

	var lines []string
	for {
		idx := indexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		end := idx
		if end > 0 && f.buf[end-1] == '\r' {
			end--
		}
		lines = append(lines, string(f.buf[:end]))
		f.buf = f.buf[idx+1:]
	}
	return lines
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
