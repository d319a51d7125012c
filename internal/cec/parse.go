package cec

import "strings"

// Parse extracts a Frame from one line of cec-client output.
//
// Traffic lines look like:
//
//	TRAFFIC: [   37491]     >> bf:82:36:00
//
// The ">>" marker is followed by whitespace and a colon-separated run
// of 2-digit hex bytes: header (source/dest nibbles), opcode, then
// zero or more payload bytes. Anything else — status notices, "<<"
// echoes of our own writes, malformed byte runs — is not a frame and
// returns ok=false. Parse has no state and never fails louder than
// that.
func Parse(line string) (Frame, bool) {
	i := strings.Index(line, ">>")
	if i < 0 {
		return Frame{}, false
	}
	rest := line[i+2:]

	// At least one whitespace character separates the marker from the
	// header byte.
	j := 0
	for j < len(rest) && (rest[j] == ' ' || rest[j] == '\t') {
		j++
	}
	if j == 0 {
		return Frame{}, false
	}
	rest = rest[j:]

	header, rest, ok := scanByte(rest)
	if !ok {
		return Frame{}, false
	}
	rest, ok = scanColon(rest)
	if !ok {
		return Frame{}, false
	}
	opcode, rest, ok := scanByte(rest)
	if !ok {
		return Frame{}, false
	}

	f := Frame{
		Source: header >> 4,
		Dest:   header & 0xF,
		Opcode: opcode,
	}

	// Optional payload: keep consuming ":hh" runs until the grammar
	// stops matching. A trailing colon or a short hex token ends the
	// payload rather than rejecting the frame.
	for {
		r, ok := scanColon(rest)
		if !ok {
			break
		}
		b, r, ok := scanByte(r)
		if !ok {
			break
		}
		f.Payload = append(f.Payload, b)
		rest = r
	}

	return f, true
}

// scanByte consumes exactly two hex digits.
func scanByte(s string) (byte, string, bool) {
	if len(s) < 2 {
		return 0, s, false
	}
	hi, ok := hexNibble(s[0])
	if !ok {
		return 0, s, false
	}
	lo, ok := hexNibble(s[1])
	if !ok {
		return 0, s, false
	}
	return hi<<4 | lo, s[2:], true
}

func scanColon(s string) (string, bool) {
	if len(s) == 0 || s[0] != ':' {
		return s, false
	}
	return s[1:], true
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
