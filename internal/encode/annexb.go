package encode

// H.264 Annex-B NAL unit types the drain path cares about.
const (
	nalTypeIDR = 5
	nalTypeSEI = 6
	nalTypeSPS = 7
	nalTypePPS = 8
)

// Splitter incrementally splits an Annex-B byte stream into NAL units.
// Writes may land on arbitrary boundaries; a unit is emitted only once the
// next start code (or Flush) delimits it.
type Splitter struct {
	buf []byte
}

func (s *Splitter) Write(p []byte) {
	s.buf = append(s.buf, p...)
}

// Next returns all complete NAL units accumulated so far, including their
// start codes, leaving any trailing partial unit buffered.
func (s *Splitter) Next() [][]byte {
	var units [][]byte
	start := findStartCode(s.buf, 0)
	if start < 0 {
		return nil
	}
	for {
		next := findStartCode(s.buf, start+3)
		if next < 0 {
			break
		}
		units = append(units, append([]byte(nil), s.buf[start:next]...))
		start = next
	}
	s.buf = append(s.buf[:0], s.buf[start:]...)
	return units
}

// Flush returns the final buffered unit, if any. Only valid once the
// stream has ended.
func (s *Splitter) Flush() []byte {
	start := findStartCode(s.buf, 0)
	if start < 0 || start == len(s.buf) {
		s.buf = nil
		return nil
	}
	unit := append([]byte(nil), s.buf[start:]...)
	s.buf = nil
	if len(unit) <= startCodeLen(unit) {
		return nil
	}
	return unit
}

// findStartCode returns the index of the next 00 00 01 or 00 00 00 01
// sequence at or after from, preferring the four-byte form.
func findStartCode(b []byte, from int) int {
	for i := from; i+3 <= len(b); i++ {
		if b[i] != 0 || b[i+1] != 0 {
			continue
		}
		if b[i+2] == 1 {
			// Part of a four-byte code starting one earlier?
			if i > from && b[i-1] == 0 {
				return i - 1
			}
			return i
		}
		if i+4 <= len(b) && b[i+2] == 0 && b[i+3] == 1 {
			return i
		}
	}
	return -1
}

func startCodeLen(unit []byte) int {
	if len(unit) >= 4 && unit[0] == 0 && unit[1] == 0 && unit[2] == 0 && unit[3] == 1 {
		return 4
	}
	if len(unit) >= 3 && unit[0] == 0 && unit[1] == 0 && unit[2] == 1 {
		return 3
	}
	return 0
}

// NALType extracts the H.264 NAL unit type, or -1 for a malformed unit.
func NALType(unit []byte) int {
	n := startCodeLen(unit)
	if n == 0 || len(unit) <= n {
		return -1
	}
	return int(unit[n] & 0x1F)
}

// IsConfigNAL reports whether the unit is a codec configuration record
// (SPS or PPS).
func IsConfigNAL(unit []byte) bool {
	t := NALType(unit)
	return t == nalTypeSPS || t == nalTypePPS
}

// IsKeyNAL reports whether the unit is an IDR slice.
func IsKeyNAL(unit []byte) bool {
	return NALType(unit) == nalTypeIDR
}
