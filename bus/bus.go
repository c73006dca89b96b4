// Package bus is a small in-process pub/sub broker with MQTT-style topics.
//
// Topics are token slices. A token is a string or an integer. Subscriptions
// may use "+" (exactly one level) and "#" (the remaining levels, including
// none) as wildcards. Retained messages are replayed to new subscribers and
// cleared by publishing a retained message with a nil payload.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	SingleWild = "+"
	MultiWild  = "#"
)

// Token is a single element in a topic path.
type Token = any

// Topic is a sequence of tokens.
type Topic []Token

// T builds a topic, panicking on tokens that cannot be map keys.
func T(tokens ...any) Topic {
	for _, tok := range tokens {
		mustToken(tok)
	}
	return Topic(tokens)
}

func mustToken(tok any) {
	switch tok.(type) {
	case string, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
	default:
		panic(fmt.Sprintf("bus: invalid topic token %T", tok))
	}
}

// Append returns a new topic with tokens added; t is not modified.
func (t Topic) Append(tokens ...any) Topic {
	out := make(Topic, 0, len(t)+len(tokens))
	out = append(out, t...)
	for _, tok := range tokens {
		mustToken(tok)
		out = append(out, tok)
	}
	return out
}

// Equal reports whether both topics hold the same tokens.
func (t Topic) Equal(o Topic) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if t[i] != o[i] {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	ReplyTo  Topic
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	topic Topic
	ch    chan *Message
	conn  *Connection
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// -----------------------------------------------------------------------------
// Trie node
// -----------------------------------------------------------------------------

type node struct {
	children map[Token]*node
	subs     []*Subscription
	retained *Message
}

func (n *node) child(tok Token, create bool) *node {
	if c, ok := n.children[tok]; ok || !create {
		return c
	}
	if n.children == nil {
		n.children = make(map[Token]*node)
	}
	c := &node{}
	n.children[tok] = c
	return c
}

func (n *node) empty() bool {
	return len(n.subs) == 0 && len(n.children) == 0 && n.retained == nil
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

type Bus struct {
	mu       sync.Mutex
	subs     *node // subscription patterns
	retained *node // concrete topics with a retained message
	qLen     int
	seq      atomic.Uint64
}

// NewBus creates a new bus with the given subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &Bus{subs: &node{}, retained: &node{}, qLen: queueLen}
}

// NewMessage builds a message; it does not publish it.
func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.subs
	for _, tok := range sub.topic {
		n = n.child(tok, true)
	}
	n.subs = append(n.subs, sub)

	var out []*Message
	collectRetained(b.retained, sub.topic, &out)
	for _, m := range out {
		deliver(sub, m)
	}
}

// Publish delivers msg to every matching subscriber and updates the retained
// store when msg.Retained is set.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var targets []*Subscription
	matchSubs(b.subs, msg.Topic, &targets)
	for _, sub := range targets {
		deliver(sub, msg)
	}

	if !msg.Retained {
		return
	}
	if msg.Payload == nil {
		removeRetained(b.retained, msg.Topic)
		return
	}
	n := b.retained
	for _, tok := range msg.Topic {
		n = n.child(tok, true)
	}
	n.retained = msg
}

// deliver never blocks the publisher: a full queue drops its oldest message.
func deliver(sub *Subscription, msg *Message) {
	select {
	case sub.ch <- msg:
		return
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- msg:
	default:
	}
}

func matchSubs(n *node, topic Topic, out *[]*Subscription) {
	if h := n.children[MultiWild]; h != nil {
		*out = append(*out, h.subs...)
	}
	if len(topic) == 0 {
		*out = append(*out, n.subs...)
		return
	}
	if c := n.children[topic[0]]; c != nil {
		matchSubs(c, topic[1:], out)
	}
	if topic[0] != SingleWild {
		if c := n.children[SingleWild]; c != nil {
			matchSubs(c, topic[1:], out)
		}
	}
}

func collectRetained(n *node, pattern Topic, out *[]*Message) {
	if len(pattern) == 0 {
		if n.retained != nil {
			*out = append(*out, n.retained)
		}
		return
	}
	switch pattern[0] {
	case MultiWild:
		collectAll(n, out)
	case SingleWild:
		for _, c := range n.children {
			collectRetained(c, pattern[1:], out)
		}
	default:
		if c := n.children[pattern[0]]; c != nil {
			collectRetained(c, pattern[1:], out)
		}
	}
}

func collectAll(n *node, out *[]*Message) {
	if n.retained != nil {
		*out = append(*out, n.retained)
	}
	for _, c := range n.children {
		collectAll(c, out)
	}
}

func removeRetained(root *node, topic Topic) {
	path := make([]*node, 0, len(topic)+1)
	n := root
	path = append(path, n)
	for _, tok := range topic {
		if n = n.children[tok]; n == nil {
			return
		}
		path = append(path, n)
	}
	n.retained = nil
	prune(path, topic)
}

// prune removes empty nodes bottom-up along path.
func prune(path []*node, topic Topic) {
	for i := len(topic) - 1; i >= 0; i-- {
		if !path[i+1].empty() {
			return
		}
		delete(path[i].children, topic[i])
	}
}

func (b *Bus) unsubscribe(sub *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := make([]*node, 0, len(sub.topic)+1)
	n := b.subs
	path = append(path, n)
	for _, tok := range sub.topic {
		if n = n.children[tok]; n == nil {
			return false
		}
		path = append(path, n)
	}
	found := false
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			found = true
			break
		}
	}
	prune(path, sub.topic)
	return found
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

type Connection struct {
	bus  *Bus
	id   string
	mu   sync.Mutex
	subs []*Subscription
}

// NewConnection creates a new connection bound to this bus.
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return c.bus.NewMessage(topic, payload, retained)
}

// Publish sends a message via the bus.
func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

// Subscribe registers a subscription owned by this connection.
func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan *Message, c.bus.qLen),
		conn:  c,
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	c.bus.addSubscription(sub)
	return sub
}

// Unsubscribe removes a subscription and closes its channel. Safe to call twice.
func (c *Connection) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	c.mu.Lock()
	owned := false
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			owned = true
			break
		}
	}
	c.mu.Unlock()
	if owned && c.bus.unsubscribe(sub) {
		close(sub.ch)
	}
}

// Disconnect closes all subscriptions of this connection.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, sub := range subs {
		if c.bus.unsubscribe(sub) {
			close(sub.ch)
		}
	}
}

// -----------------------------------------------------------------------------
// Request / reply
// -----------------------------------------------------------------------------

const replyRoot = "_reply"

// CanReply reports whether msg carries a reply topic.
func (c *Connection) CanReply(msg *Message) bool {
	return msg != nil && len(msg.ReplyTo) > 0
}

// Reply publishes payload on req.ReplyTo. It is a no-op when the request
// did not ask for a reply.
func (c *Connection) Reply(req *Message, payload any, retained bool) {
	if !c.CanReply(req) {
		return
	}
	c.Publish(c.NewMessage(req.ReplyTo, payload, retained))
}

// Request assigns a private reply topic to msg, subscribes to it and
// publishes msg. The caller owns the returned subscription.
func (c *Connection) Request(msg *Message) *Subscription {
	msg.ReplyTo = Topic{replyRoot, c.id, int(c.bus.seq.Add(1))}
	sub := c.Subscribe(msg.ReplyTo)
	c.Publish(msg)
	return sub
}

// RequestWait publishes msg and waits for the first reply or ctx.
func (c *Connection) RequestWait(ctx context.Context, msg *Message) (*Message, error) {
	sub := c.Request(msg)
	defer c.Unsubscribe(sub)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m, ok := <-sub.Channel():
		if !ok {
			return nil, fmt.Errorf("bus: reply subscription closed")
		}
		return m, nil
	}
}
