package elm

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Writer is the transport write primitive the channel needs. The transport
// package's Link satisfies it.
type Writer interface {
	Write(p []byte) error
}

// DefaultTimeout is the per-command deadline used by the init sequence and
// by callers that have no better number.
const DefaultTimeout = 2 * time.Second

// Channel is the half-duplex command channel. The adapter cannot multiplex
// commands, so only one caller may be inside Execute at a time; request and
// response are matched purely by that serialization. The wire protocol
// carries no request IDs.
type Channel struct {
	mu  sync.Mutex
	w   Writer
	asm *Assembler
}

func NewChannel(w Writer) *Channel {
	return &Channel{w: w, asm: NewAssembler()}
}

// Feed hands a raw inbound chunk to the frame assembler. Safe to call from
// the transport's delivery goroutine.
func (c *Channel) Feed(chunk []byte) { c.asm.Feed(chunk) }

// Pump drains a chunk channel into the assembler until ctx is cancelled or
// the channel closes. Run it in its own goroutine.
func (c *Channel) Pump(ctx context.Context, chunks <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			c.asm.Feed(chunk)
		}
	}
}

// Execute sends one command and waits for its reply. The empty string
// signals a timeout, a cancelled context, or a write failure, never an
// error value: no answer is a normal outcome on this bus.
//
// A response left over from a previous call (one that timed out after its
// reply arrived late) is drained and discarded before writing, so it cannot
// be mis-attributed to this command.
func (c *Channel) Execute(ctx context.Context, cmd string, timeout time.Duration) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		select {
		case stale := <-c.asm.Responses():
			log.Printf("[elm] discarding stale response %q", stale)
			continue
		default:
		}
		break
	}

	if err := c.w.Write([]byte(cmd + "\r")); err != nil {
		log.Printf("[elm] write %q failed: %v", cmd, err)
		return ""
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-c.asm.Responses():
		return resp
	case <-timer.C:
		return ""
	case <-ctx.Done():
		return ""
	}
}

// initSequence is sent once at connection start to put the adapter into a
// predictable state: reset, echo off, linefeeds off, spaces off, headers
// off, automatic protocol selection.
var initSequence = []string{"ATZ", "ATE0", "ATL0", "ATS0", "ATH0", "ATSP0"}

// Init runs the adapter initialization sequence. ATZ may legitimately come
// back empty on adapters that swallow the reset banner, so only the later
// commands are required to answer.
func (c *Channel) Init(ctx context.Context) error {
	for i, cmd := range initSequence {
		resp := c.Execute(ctx, cmd, DefaultTimeout)
		log.Printf("[elm] init %s -> %q", cmd, resp)
		if resp == "" && i > 0 {
			return fmt.Errorf("elm: no response to init command %s", cmd)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
