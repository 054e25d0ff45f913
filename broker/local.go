package broker

import (
	"context"
	"fmt"
	"sync"

	"ddcop/message"

	channerics "github.com/niceyeti/channerics/channels"
)

// Local is an in-memory topic-routed exchange: a publish/subscribe transport with
// per-agent mailboxes and broadcast topics, minus persistence and cross-process
// transport.
//
// One dispatch goroutine drains the publish stream through channerics.OrDone and fans
// each message out to the N dynamically-registered subscriber mailboxes whose key
// matches its topic.
type Local struct {
	mu          sync.RWMutex
	subs        map[int]*subscription
	nextSubID   int
	closed      bool
	publishChan chan publishedMsg
	done        chan struct{}
}

type subscription struct {
	key string
	out chan message.Message
}

type publishedMsg struct {
	topic string
	msg   message.Message
}

// NewLocal starts a Local broker's dispatch loop and returns it.
func NewLocal() *Local {
	l := &Local{
		subs:        map[int]*subscription{},
		publishChan: make(chan publishedMsg, 256),
		done:        make(chan struct{}),
	}
	go l.dispatchLoop()
	return l
}

func (l *Local) dispatchLoop() {
	for pm := range channerics.OrDone(l.done, l.publishChan) {
		l.mu.RLock()
		for _, sub := range l.subs {
			if !message.Matches(sub.key, pm.topic) {
				continue
			}
			select {
			case sub.out <- pm.msg:
			default:
				// Slow subscriber: drop rather than block the exchange. A subscriber that
				// can't keep up loses messages, same as a real broker queue overflowing.
			}
		}
		l.mu.RUnlock()
	}
}

// Publish sends msg to every current subscriber whose subscription key matches topic.
func (l *Local) Publish(ctx context.Context, topic string, msg message.Message) error {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return fmt.Errorf("publish to %s: broker closed", topic)
	}

	select {
	case l.publishChan <- publishedMsg{topic: topic, msg: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return fmt.Errorf("publish to %s: broker closed", topic)
	}
}

// Subscribe registers a new mailbox for subscriptionKey and returns its channel plus
// an unsubscribe function. The channel closes when ctx is done or unsubscribe is
// called.
func (l *Local) Subscribe(ctx context.Context, subscriptionKey string) (<-chan message.Message, func()) {
	l.mu.Lock()
	id := l.nextSubID
	l.nextSubID++
	sub := &subscription{key: subscriptionKey, out: make(chan message.Message, 64)}
	l.subs[id] = sub
	l.mu.Unlock()

	unsubscribe := func() {
		l.mu.Lock()
		if _, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(sub.out)
		}
		l.mu.Unlock()
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-l.done:
		}
	}()

	return sub.out, unsubscribe
}

// Close shuts down the dispatch loop and closes every subscriber channel.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	for id, sub := range l.subs {
		delete(l.subs, id)
		close(sub.out)
	}
	l.mu.Unlock()
	return nil
}

var _ Broker = (*Local)(nil)
