// Package elm implements the ELM327 protocol bridge: reassembly of raw
// notification chunks into discrete responses, and a half-duplex command
// channel that serializes callers against the single physical link.
package elm

import (
	"strings"
	"unicode/utf8"
)

// Prompt is the adapter's end-of-response marker. Everything between two
// prompts is one reply.
const Prompt = '>'

// Assembler turns a stream of arbitrary-sized chunks into discrete, trimmed
// response strings. Feed is called from the transport's delivery goroutine;
// completed responses are read from Responses by the command channel.
type Assembler struct {
	buf strings.Builder
	out chan string
}

// responseBacklog bounds the queue of completed-but-unclaimed responses.
// The command channel drains stale entries before every write, so the queue
// only ever grows when responses arrive with no caller waiting; on overflow
// the oldest entry is evicted, since no caller can ever claim it.
const responseBacklog = 32

func NewAssembler() *Assembler {
	return &Assembler{out: make(chan string, responseBacklog)}
}

// Responses is the queue of completed replies, in arrival order.
func (a *Assembler) Responses() <-chan string { return a.out }

// Feed appends a raw chunk to the retained buffer and enqueues every
// response the chunk completes. Bytes that are not valid text are dropped
// rather than failing the chunk. A single chunk may complete several
// responses, or none.
func (a *Assembler) Feed(chunk []byte) {
	a.buf.WriteString(sanitize(chunk))

	pending := a.buf.String()
	for {
		idx := strings.IndexByte(pending, Prompt)
		if idx < 0 {
			break
		}
		candidate := strings.TrimSpace(pending[:idx])
		pending = pending[idx+1:]
		if candidate != "" {
			a.enqueue(candidate)
		}
	}

	a.buf.Reset()
	a.buf.WriteString(pending)
}

func (a *Assembler) enqueue(resp string) {
	for {
		select {
		case a.out <- resp:
			return
		default:
		}
		// Queue full: evict the oldest unclaimed response.
		select {
		case <-a.out:
		default:
		}
	}
}

// sanitize decodes a chunk as UTF-8, dropping invalid bytes.
func sanitize(chunk []byte) string {
	if utf8.Valid(chunk) {
		return string(chunk)
	}
	var b strings.Builder
	b.Grow(len(chunk))
	for len(chunk) > 0 {
		r, size := utf8.DecodeRune(chunk)
		if r != utf8.RuneError || size > 1 {
			b.WriteRune(r)
		}
		chunk = chunk[size:]
	}
	return b.String()
}
