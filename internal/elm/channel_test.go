package elm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptWriter answers each written command through a reply function, feeding
// the result straight back into the channel's assembler.
type scriptWriter struct {
	ch    *Channel
	reply func(cmd string) string
}

func (w *scriptWriter) Write(p []byte) error {
	cmd := strings.TrimSuffix(string(p), "\r")
	if resp := w.reply(cmd); resp != "" {
		w.ch.Feed([]byte(resp + "\r>"))
	}
	return nil
}

func newScripted(reply func(cmd string) string) *Channel {
	w := &scriptWriter{reply: reply}
	ch := NewChannel(w)
	w.ch = ch
	return ch
}

func TestExecuteReturnsReply(t *testing.T) {
	ch := newScripted(func(cmd string) string { return "OK" })

	if got := ch.Execute(context.Background(), "ATE0", DefaultTimeout); got != "OK" {
		t.Fatalf("Execute = %q, want %q", got, "OK")
	}
}

func TestExecuteTimeoutReturnsEmpty(t *testing.T) {
	ch := newScripted(func(cmd string) string { return "" }) // never answers

	start := time.Now()
	got := ch.Execute(context.Background(), "010C", 50*time.Millisecond)
	elapsed := time.Since(start)

	if got != "" {
		t.Fatalf("Execute = %q, want empty on timeout", got)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("timeout took %v, deadline was 50ms", elapsed)
	}

	// The channel must be usable immediately after a timeout.
	done := make(chan string, 1)
	go func() { done <- ch.Execute(context.Background(), "010D", 50*time.Millisecond) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Execute blocked after a previous timeout")
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	ch := newScripted(func(cmd string) string { return "" })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := ch.Execute(ctx, "010C", time.Minute); got != "" {
		t.Fatalf("Execute = %q, want empty on cancelled context", got)
	}
}

func TestExecuteDrainsStaleResponse(t *testing.T) {
	ch := newScripted(func(cmd string) string {
		if cmd == "010D" {
			return "41 0D 32"
		}
		return ""
	})

	// First command times out; its reply then arrives late.
	if got := ch.Execute(context.Background(), "010C", 20*time.Millisecond); got != "" {
		t.Fatalf("first Execute = %q, want timeout", got)
	}
	ch.Feed([]byte("41 0C 1A F8\r>"))

	// The late reply must not be attributed to the next command.
	if got := ch.Execute(context.Background(), "010D", DefaultTimeout); got != "41 0D 32" {
		t.Fatalf("second Execute = %q, want %q", got, "41 0D 32")
	}
}

func TestExecuteSerializesConcurrentCallers(t *testing.T) {
	// The writer echoes the command back, so any interleaving of request and
	// response would surface as a caller receiving another caller's echo.
	ch := newScripted(func(cmd string) string { return "echo " + cmd })

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := fmt.Sprintf("01%02X", i)
			got := ch.Execute(context.Background(), cmd, DefaultTimeout)
			if got != "echo "+cmd {
				errs <- fmt.Errorf("Execute(%s) = %q", cmd, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestInit(t *testing.T) {
	var sent []string
	ch := newScripted(func(cmd string) string {
		sent = append(sent, cmd)
		if cmd == "ATZ" {
			return "ELM327 v1.5"
		}
		return "OK"
	})

	if err := ch.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	want := []string{"ATZ", "ATE0", "ATL0", "ATS0", "ATH0", "ATSP0"}
	if len(sent) != len(want) {
		t.Fatalf("sent %v, want %v", sent, want)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Fatalf("init command %d = %q, want %q", i, sent[i], want[i])
		}
	}
}

func TestInitToleratesSilentReset(t *testing.T) {
	ch := newScripted(func(cmd string) string {
		if cmd == "ATZ" {
			return "" // some adapters swallow the reset banner
		}
		return "OK"
	})

	if err := ch.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
}

func TestInitFailsWhenAdapterGoesSilent(t *testing.T) {
	ch := newScripted(func(cmd string) string {
		if cmd == "ATZ" {
			return "ELM327 v1.5"
		}
		return ""
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := ch.Init(ctx); err == nil {
		t.Fatal("Init succeeded with a silent adapter")
	}
}
