// Package broker defines the external message-broker contract and an in-memory
// reference adapter good enough to drive this repo's own tests. A real deployment
// swaps Local for a topic-exchange client; nothing above this interface needs to know
// the difference.
package broker

import (
	"context"

	"ddcop/message"
)

// Broker is a topic-routed publish/subscribe transport with per-agent mailboxes and
// broadcast topics. It makes no exactly-once or persistence guarantee, and no
// ordering guarantee across publishers — only per-(publisher,topic) FIFO.
type Broker interface {
	// Publish sends msg to every current subscriber of topic.
	Publish(ctx context.Context, topic string, msg message.Message) error
	// Subscribe returns a channel of messages published to topics matching key (which
	// may end in the "#" wildcard, per message.Matches), and an unsubscribe func.
	// The returned channel is closed when ctx is done or Unsubscribe is called.
	Subscribe(ctx context.Context, key string) (<-chan message.Message, func())
	// Close releases all broker resources; subsequent Publish/Subscribe calls fail.
	Close() error
}
