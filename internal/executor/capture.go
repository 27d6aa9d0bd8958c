package executor

import (
	"bytes"
	"io"
	"sync"
)

// boundedBuffer collects up to limit bytes and silently drops the rest.
//
// Write never fails, so the process on the other end of the pipe is not
// disturbed by EPIPE once the cap is reached; it keeps running until it
// finishes or a limit stops it.
type boundedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.limit - b.buf.Len()
	if room <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

// String returns the captured text, with TruncationMarker appended when
// anything was dropped.
func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + TruncationMarker
	}
	return b.buf.String()
}

func (b *boundedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// reportSplitter forwards stderr to dst until it sees the report marker. The
// marker and everything after it are held back for parseReport.
//
// Bytes that could be the start of a marker split across two writes are kept
// pending until the next write decides them. Flush releases them once the
// stream has ended.
type reportSplitter struct {
	mu      sync.Mutex
	dst     io.Writer
	marker  []byte
	pending []byte
	found   bool
	tail    bytes.Buffer
}

func newReportSplitter(dst io.Writer, marker []byte) *reportSplitter {
	return &reportSplitter{dst: dst, marker: marker}
}

func (s *reportSplitter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.found {
		s.keep(p)
		return len(p), nil
	}

	data := p
	if len(s.pending) > 0 {
		data = append(s.pending, p...)
		s.pending = nil
	}

	if i := bytes.Index(data, s.marker); i >= 0 {
		s.found = true
		if _, err := s.dst.Write(data[:i]); err != nil {
			return len(p), err
		}
		s.keep(data[i+len(s.marker):])
		return len(p), nil
	}

	hold := partialSuffix(data, s.marker)
	if _, err := s.dst.Write(data[:len(data)-hold]); err != nil {
		return len(p), err
	}
	if hold > 0 {
		s.pending = bytes.Clone(data[len(data)-hold:])
	}
	return len(p), nil
}

func (s *reportSplitter) keep(p []byte) {
	if room := maxReportSize - s.tail.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		s.tail.Write(p)
	}
}

// Flush writes out bytes held back as a possible marker prefix.
func (s *reportSplitter) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.found || len(s.pending) == 0 {
		return nil
	}
	_, err := s.dst.Write(s.pending)
	s.pending = nil
	return err
}

// Report returns the parsed report, if a well-formed one was seen.
func (s *reportSplitter) Report() (*report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.found {
		return nil, false
	}
	return parseReport(s.tail.Bytes())
}

// partialSuffix returns the length of the longest suffix of data that is a
// proper prefix of marker.
func partialSuffix(data, marker []byte) int {
	n := min(len(data), len(marker)-1)
	for ; n > 0; n-- {
		if bytes.HasPrefix(marker, data[len(data)-n:]) {
			return n
		}
	}
	return 0
}
