package listener

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const maxFrameSize = 10 * 1024

var ErrFrameTooLong = errors.New("frame exceeds maximum size")

/*
SplitFrames is the bufio.SplitFunc for the mixed TCP byte stream. Three
framing rules, detected by the first byte of the frame:

  - '(': parenthesis delimited vendor frame, up to the closing ')';
  - zero byte: length prefixed binary frame
    (4 zero bytes, 4 byte big endian length, payload, 4 byte CRC);
  - anything else: newline terminated text, CR stripped.

Leading CR/LF between frames is skipped.
*/
func SplitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) && (data[start] == '\r' || data[start] == '\n' || data[start] == ' ') {
		start++
	}

	if start == len(data) {
		return start, nil, nil
	}

	rest := data[start:]

	if rest[0] == '(' {
		if i := bytes.IndexByte(rest, ')'); i >= 0 {
			return start + i + 1, rest[:i+1], nil
		}
	} else if rest[0] == 0x00 {
		if len(rest) >= 8 && binary.BigEndian.Uint32(rest[:4]) == 0 {
			length := binary.BigEndian.Uint32(rest[4:8])
			total := 8 + int(length) + 4
			if total > maxFrameSize {
				return 0, nil, ErrFrameTooLong
			}
			if len(rest) >= total {
				return start + total, rest[:total], nil
			}
		}
	} else {
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			return start + i + 1, dropCR(rest[:i]), nil
		}
	}

	if atEOF {
		// Closing stream, hand out what is left and let the decoder judge.
		return len(data), dropCR(rest), nil
	}

	return start, nil, nil
}

func dropCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		return data[:len(data)-1]
	}
	return data
}
