// Package transport owns the physical link to the ELM327 adapter. The
// protocol bridge consumes it through the Link interface: a write primitive
// plus a channel of inbound raw chunks, decoupling link I/O timing from the
// frame assembler.
package transport

// Link is a connected adapter transport. Chunks delivers raw inbound bytes
// in whatever sizes the underlying link produces; chunk boundaries carry no
// meaning. Connection setup, teardown and discovery live behind Connect and
// Close; the protocol layer never sees them.
type Link interface {
	// Name returns the human-readable name of this transport.
	Name() string
	// Connect opens the link and starts inbound delivery.
	Connect() error
	// Close shuts the link down; Chunks is closed afterwards.
	Close() error
	// Write sends raw bytes to the adapter.
	Write(p []byte) error
	// Chunks is the inbound delivery channel.
	Chunks() <-chan []byte
}

// chunkBacklog bounds inbound delivery. The assembler pump normally keeps
// up; if it stalls, newest chunks are dropped and the affected commands
// simply time out.
const chunkBacklog = 64
