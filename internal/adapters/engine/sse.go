package engine

import (
	"bufio"
	"bytes"
	"io"
)

// sseScanner reads the data lines of a Server-Sent Events stream.
type sseScanner struct {
	scanner *bufio.Scanner
	data    string
	err     error
}

func newSSEScanner(r io.Reader) *sseScanner {
	return &sseScanner{scanner: bufio.NewScanner(r)}
}

func (s *sseScanner) Scan() bool {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if bytes.HasPrefix(line, []byte("data:")) {
			s.data = string(bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:"))))
			return true
		}
	}
	s.err = s.scanner.Err()
	return false
}

func (s *sseScanner) Data() string { return s.data }

func (s *sseScanner) Err() error { return s.err }
