// Package network is the gossip transport: a libp2p host running GossipSub
// over the three logical topics (transactions, blocks, intents), encoding
// and decoding MessagePack payloads and deduping gossiped intents and
// transactions through a history.History cache.
package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"intent-chain/core"
	"intent-chain/core/history"
)

// TransactionsTopic, BlocksTopic and IntentsTopic build the three logical
// gossip topic names for a network, namespaced by network ID so multiple
// independent networks never cross-talk on the same physical overlay.
func TransactionsTopic(networkID string) string { return fmt.Sprintf("/%s/transactions", networkID) }
func BlocksTopic(networkID string) string       { return fmt.Sprintf("/%s/blocks", networkID) }
func IntentsTopic(networkID string) string      { return fmt.Sprintf("/%s/intents", networkID) }

// Config is the subset of a node's network identity needed to join the
// overlay: which namespace to gossip on, where to listen, and who to dial
// first.
type Config struct {
	NetworkID      string
	ListenAddr     string
	BootstrapPeers []string
}

// Node is a single participant on the gossip overlay.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription

	dedupe *history.History
	log    *logrus.Logger
}

// NewNode brings up a libp2p host with GossipSub, dials every bootstrap
// peer (logging, not failing, on a bad address — a node should still come
// up and rely on later discovery/dials), and is ready to Publish/Subscribe
// once it returns. dedupeLifespan controls how long a gossiped intent or
// transaction hash is remembered before a repeat is treated as new again.
func NewNode(cfg Config, dedupeLifespan time.Duration, log *logrus.Logger) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("network: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("network: create pubsub: %w", err)
	}

	if log == nil {
		log = logrus.StandardLogger()
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		dedupe: history.New(dedupeLifespan),
		log:    log,
	}

	for _, addr := range cfg.BootstrapPeers {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			n.log.WithError(err).Warnf("network: invalid bootstrap address %s", addr)
			continue
		}
		if err := h.Connect(ctx, *pi); err != nil {
			n.log.WithError(err).Warnf("network: failed dialing bootstrap peer %s", addr)
		}
	}

	return n, nil
}

// Close tears the node down: cancels its context and closes the host.
func (n *Node) Close() error {
	n.cancel()
	return n.host.Close()
}

func (n *Node) joinTopic(name string) (*pubsub.Topic, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.topics[name]; ok {
		return t, nil
	}
	t, err := n.pubsub.Join(name)
	if err != nil {
		return nil, fmt.Errorf("network: join topic %s: %w", name, err)
	}
	n.topics[name] = t
	return t, nil
}

// Publish encodes value as MessagePack and broadcasts it on the named
// topic.
func (n *Node) Publish(topic string, value any) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("network: encode payload for %s: %w", topic, err)
	}
	t, err := n.joinTopic(topic)
	if err != nil {
		return err
	}
	if err := t.Publish(n.ctx, data); err != nil {
		return fmt.Errorf("network: publish %s: %w", topic, err)
	}
	return nil
}

// PublishTransaction gossips a freshly submitted, not-yet-packaged
// transaction on this node's transactions topic. Each receiving node
// packages it independently against its own current state rather than
// trusting a pre-packaged form from the wire.
func (n *Node) PublishTransaction(tx *core.SymbolicTransaction) error {
	return n.Publish(TransactionsTopic(n.cfg.NetworkID), tx)
}

// PublishBlock gossips a committed block on this node's blocks topic.
func (n *Node) PublishBlock(block *core.Block) error {
	return n.Publish(BlocksTopic(n.cfg.NetworkID), block)
}

// PublishIntent gossips a user/solver-submitted intent on this node's
// intents topic.
func (n *Node) PublishIntent(intent *core.SymbolicIntent) error {
	return n.Publish(IntentsTopic(n.cfg.NetworkID), intent)
}

func (n *Node) subscription(name string) (*pubsub.Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if s, ok := n.subs[name]; ok {
		return s, nil
	}
	s, err := n.pubsub.Subscribe(name)
	if err != nil {
		return nil, fmt.Errorf("network: subscribe %s: %w", name, err)
	}
	n.subs[name] = s
	return s, nil
}

// SubscribeBlocks decodes every message on this node's blocks topic into a
// core.Block and delivers it on the returned channel, which is closed when
// the subscription ends.
func (n *Node) SubscribeBlocks() (<-chan *core.Block, error) {
	sub, err := n.subscription(BlocksTopic(n.cfg.NetworkID))
	if err != nil {
		return nil, err
	}
	out := make(chan *core.Block)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				n.log.WithError(err).Debug("network: blocks subscription ended")
				return
			}
			var block core.Block
			if err := msgpack.Unmarshal(msg.Data, &block); err != nil {
				n.log.WithError(err).Warn("network: failed decoding gossiped block")
				continue
			}
			out <- &block
		}
	}()
	return out, nil
}

// SubscribeTransactions decodes every message on this node's transactions
// topic into a core.SymbolicTransaction, dropping anything this node has
// already seen within the dedupe window. Each transaction still needs to be
// packaged against this node's own state before it can be scheduled.
func (n *Node) SubscribeTransactions() (<-chan *core.SymbolicTransaction, error) {
	sub, err := n.subscription(TransactionsTopic(n.cfg.NetworkID))
	if err != nil {
		return nil, err
	}
	out := make(chan *core.SymbolicTransaction)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				n.log.WithError(err).Debug("network: transactions subscription ended")
				return
			}
			var tx core.SymbolicTransaction
			if err := msgpack.Unmarshal(msg.Data, &tx); err != nil {
				n.log.WithError(err).Warn("network: failed decoding gossiped transaction")
				continue
			}
			hash, err := tx.Hash()
			if err != nil {
				n.log.WithError(err).Warn("network: failed hashing gossiped transaction")
				continue
			}
			if n.dedupe.Insert(hash) {
				continue
			}
			out <- &tx
		}
	}()
	return out, nil
}

// SubscribeIntents decodes every message on this node's intents topic into
// a core.SymbolicIntent, dropping anything this node has already seen
// within the dedupe window.
func (n *Node) SubscribeIntents() (<-chan *core.SymbolicIntent, error) {
	sub, err := n.subscription(IntentsTopic(n.cfg.NetworkID))
	if err != nil {
		return nil, err
	}
	out := make(chan *core.SymbolicIntent)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				n.log.WithError(err).Debug("network: intents subscription ended")
				return
			}
			var intent core.SymbolicIntent
			if err := msgpack.Unmarshal(msg.Data, &intent); err != nil {
				n.log.WithError(err).Warn("network: failed decoding gossiped intent")
				continue
			}
			hash, err := intent.Hash()
			if err != nil {
				n.log.WithError(err).Warn("network: failed hashing gossiped intent")
				continue
			}
			if n.dedupe.Insert(hash) {
				continue
			}
			out <- &intent
		}
	}()
	return out, nil
}
