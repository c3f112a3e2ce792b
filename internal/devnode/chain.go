package devnode

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kleeedolinux/rpcprovider/jsonrpc"
)

const (
	MethodNetworkState     = "system_networkState"
	MethodHealth           = "system_health"
	MethodGetHeader        = "chain_getHeader"
	MethodSubscribeNewHead = "chain_subscribeNewHead"
	MethodUnsubscribeHead  = "chain_unsubscribeNewHead"
	MethodNewHead          = "chain_newHead"

	TopicNewHeads = "newHeads"
)

type Header struct {
	Number     string `json:"number"`
	ParentHash string `json:"parentHash,omitempty"`
}

type NetworkState struct {
	PeerID            string   `json:"peerId"`
	ListenedAddresses []string `json:"listenedAddresses"`
	BestNumber        string   `json:"bestNumber"`
}

type Health struct {
	Peers           int  `json:"peers"`
	IsSyncing       bool `json:"isSyncing"`
	ShouldHavePeers bool `json:"shouldHavePeers"`
}

// Chain is a toy block producer. Every interval it seals a new head and
// pushes it to newHead subscribers.
type Chain struct {
	interval time.Duration
	peerID   string

	mu     sync.RWMutex
	number uint64
	srv    *Server
}

func NewChain(interval time.Duration) *Chain {
	return &Chain{
		interval: interval,
		peerID:   uuid.NewString(),
	}
}

// Register installs the chain's methods on srv. Heads produced afterwards
// are published through it.
func (c *Chain) Register(srv *Server) {
	c.mu.Lock()
	c.srv = srv
	c.mu.Unlock()

	srv.HandleFunc(MethodNetworkState, c.networkState)
	srv.HandleFunc(MethodHealth, c.health)
	srv.HandleFunc(MethodGetHeader, c.getHeader)
	srv.HandleSubscription(MethodSubscribeNewHead, MethodNewHead, MethodUnsubscribeHead, TopicNewHeads)
}

// Run produces heads until ctx is done.
func (c *Chain) Run(ctx context.Context) error {
	if c.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Produce()
		}
	}
}

// Produce seals the next head and publishes it.
func (c *Chain) Produce() Header {
	c.mu.Lock()
	parent := c.number
	c.number++
	head := Header{Number: hexNumber(c.number), ParentHash: hexNumber(parent)}
	srv := c.srv
	c.mu.Unlock()

	if srv != nil {
		srv.Publish(TopicNewHeads, head)
	}
	return head
}

// Head returns the latest head.
func (c *Chain) Head() Header {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h := Header{Number: hexNumber(c.number)}
	if c.number > 0 {
		h.ParentHash = hexNumber(c.number - 1)
	}
	return h
}

func (c *Chain) networkState(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
	return NetworkState{
		PeerID:            c.peerID,
		ListenedAddresses: []string{},
		BestNumber:        c.Head().Number,
	}, nil
}

func (c *Chain) health(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
	return Health{}, nil
}

func (c *Chain) getHeader(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
	return c.Head(), nil
}

func hexNumber(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}
