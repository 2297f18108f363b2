// Package message provides the queue message envelope and the transaction
// notification codec.
package message

// Payload is the canonical alias for raw message body
type Payload = []byte

// Message is a single queue delivery. Transports fill Stream with the
// stream or queue the message was read from so dispositions can be routed
// back to it.
type Message struct {
	ID            string
	Stream        string
	Body          Payload
	DeliveryCount int

	// Receipt is transport-private state needed to settle the message,
	// such as an AMQP delivery tag.
	Receipt uint64
}
