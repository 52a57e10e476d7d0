// Package streamer yields top-level objects from a JSON array read
// incrementally, without ever holding more than one chunk plus the current
// partial object in memory. It scans character by character over a
// bufio.Reader instead of using encoding/json.Decoder's token API: only
// top-level element boundaries matter here, and reclaiming the backing
// buffer after every yield needs explicit control that Decoder does not
// expose.
package streamer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"companion-keeper/internal/pipeline"
)

const initialBufSize = 64 * 1024

type scanState int

const (
	statePreArray scanState = iota
	stateBetweenElements
	stateInObject
)

// Streamer scans a byte stream known to encode a UTF-8 JSON array of
// top-level objects and yields each object in turn.
type Streamer struct {
	r        *bufio.Reader
	buf      []byte
	state    scanState
	depth    int
	inStr    bool
	escape   bool
	done     bool
	seenOpen bool
	closed   bool
}

// New wraps r for incremental array scanning.
func New(r io.Reader) *Streamer {
	return &Streamer{
		r:     bufio.NewReaderSize(r, 32*1024),
		buf:   make([]byte, 0, initialBufSize),
		state: statePreArray,
	}
}

// Next returns the next top-level object as a raw JSON message. It returns
// io.EOF once the array is fully consumed. Any other error is fatal and
// wraps pipeline.ErrMalformedInput.
func (s *Streamer) Next() (json.RawMessage, error) {
	if s.done {
		return nil, io.EOF
	}

	tokenStart := -1
	cursor := 0

	for {
		if cursor >= len(s.buf) {
			chunk := make([]byte, 4096)
			n, err := s.r.Read(chunk)
			if n > 0 {
				s.buf = append(s.buf, chunk[:n]...)
			}
			if n == 0 {
				if err == io.EOF {
					return s.handleEOF(tokenStart, cursor)
				}
				if err != nil {
					return nil, fmt.Errorf("%w: read failed: %v", pipeline.ErrMalformedInput, err)
				}
				continue
			}
			// n > 0: process what we have even if err == io.EOF came
			// alongside it; the next empty read will surface true EOF.
		}

		for cursor < len(s.buf) {
			c := s.buf[cursor]

			switch s.state {
			case statePreArray:
				if isSpace(c) {
					cursor++
					continue
				}
				if c != '[' {
					return nil, fmt.Errorf("%w: expected '[' at start of array", pipeline.ErrMalformedInput)
				}
				s.seenOpen = true
				s.state = stateBetweenElements
				cursor++
				s.buf = s.buf[cursor:]
				cursor = 0

			case stateBetweenElements:
				if isSpace(c) || c == ',' {
					cursor++
					continue
				}
				if c == ']' {
					s.done = true
					s.closed = true
					return nil, io.EOF
				}
				if c != '{' {
					return nil, fmt.Errorf("%w: top-level array element is not an object", pipeline.ErrMalformedInput)
				}
				s.state = stateInObject
				s.depth = 1
				s.inStr = false
				s.escape = false
				tokenStart = cursor
				cursor++

			case stateInObject:
				if s.inStr {
					if s.escape {
						s.escape = false
					} else if c == '\\' {
						s.escape = true
					} else if c == '"' {
						s.inStr = false
					}
					cursor++
					continue
				}
				switch c {
				case '"':
					s.inStr = true
				case '{':
					s.depth++
				case '}':
					s.depth--
					if s.depth == 0 {
						obj := make(json.RawMessage, cursor+1-tokenStart)
						copy(obj, s.buf[tokenStart:cursor+1])
						cursor++
						s.buf = s.buf[cursor:]
						s.state = stateBetweenElements
						if !json.Valid(obj) {
							return nil, fmt.Errorf("%w: captured element is not valid JSON", pipeline.ErrMalformedInput)
						}
						return obj, nil
					}
				}
				cursor++
			}
		}

		// Buffer exhausted without finishing the current token: reclaim
		// everything before tokenStart (or everything, if between elements).
		if tokenStart >= 0 {
			s.buf = s.buf[tokenStart:]
			cursor -= tokenStart
			tokenStart = 0
		} else {
			s.buf = s.buf[:0]
			cursor = 0
		}
	}
}

func (s *Streamer) handleEOF(tokenStart, cursor int) (json.RawMessage, error) {
	if s.state == stateInObject {
		return nil, fmt.Errorf("%w: unterminated object at end of stream", pipeline.ErrMalformedInput)
	}
	if !s.seenOpen {
		return nil, fmt.Errorf("%w: stream did not contain a JSON array", pipeline.ErrMalformedInput)
	}
	if !s.closed {
		return nil, fmt.Errorf("%w: missing closing ']'", pipeline.ErrMalformedInput)
	}
	s.done = true
	return nil, io.EOF
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
