package witness

import (
	"bytes"
	"strings"
	"sync"
	"unicode/utf8"
)

// DefaultMaxOutputBytes caps each captured stream.
const DefaultMaxOutputBytes = 1 << 20

const truncatedSuffix = "\n[output truncated]"

// boundedBuffer keeps the first limit bytes written to it and discards the
// rest. Writes never fail, so the child never sees EPIPE from us.
type boundedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newBoundedBuffer(limit int) *boundedBuffer {
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}
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

// String returns the captured text as valid UTF-8, marked when output was
// dropped. A character split by the limit is dropped whole; any other
// invalid byte sequence becomes U+FFFD.
func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return toValidUTF8(trimPartialRune(b.buf.Bytes())) + truncatedSuffix
	}
	return toValidUTF8(b.buf.Bytes())
}

func toValidUTF8(p []byte) string {
	return strings.ToValidUTF8(string(p), string(utf8.RuneError))
}

// trimPartialRune drops an incomplete multi-byte sequence at the end of p.
func trimPartialRune(p []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(p); i++ {
		start := len(p) - i
		if !utf8.RuneStart(p[start]) {
			continue
		}
		if !utf8.FullRune(p[start:]) {
			return p[:start]
		}
		return p
	}
	return p
}
