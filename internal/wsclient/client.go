// Package wsclient implements a Solana JSON-RPC WebSocket client:
// accountSubscribe / signatureSubscribe / logsSubscribe over a single
// persistent connection, with automatic reconnect and resubscription.
// The wire format mirrors blockchain.RPCClient's JSON-RPC 2.0 request
// envelope; this package is the streaming counterpart the pack's
// internal/websocket callers (PriceFeed, WalletMonitor) were written
// against but never shipped.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Handler receives the "result" payload of a subscription notification.
type Handler func(data json.RawMessage)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  struct {
		Subscription uint64          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

type pendingSub struct {
	resultCh chan uint64
	errCh    chan error
	handler  Handler
}

// resubscribeEntry records enough to replay a subscription after
// reconnect: the original request shape plus its handler.
type resubscribeEntry struct {
	method  string
	params  []interface{}
	handler Handler
}

// Client is a reconnecting Solana WebSocket RPC client.
type Client struct {
	url string

	mu       sync.Mutex
	conn     *websocket.Conn
	nextID   atomic.Uint64
	pending  map[uint64]*pendingSub
	subs     map[uint64]Handler // live subscription id -> handler
	resub    map[uint64]resubscribeEntry // subscription id -> entry, replayed on reconnect

	reconnectDelay time.Duration
	errorDelay     time.Duration
	pingInterval   time.Duration

	onConnect    func()
	onDisconnect func()

	closed   atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Client bound to a Solana websocket RPC endpoint.
// Connect must be called before any subscribe method.
func New(url string, reconnectDelay, errorDelay, pingInterval time.Duration) *Client {
	return &Client{
		url:            url,
		pending:        make(map[uint64]*pendingSub),
		subs:           make(map[uint64]Handler),
		resub:          make(map[uint64]resubscribeEntry),
		reconnectDelay: reconnectDelay,
		errorDelay:     errorDelay,
		pingInterval:   pingInterval,
		stopCh:         make(chan struct{}),
	}
}

// SetCallbacks registers connection lifecycle hooks. Either may be nil.
func (c *Client) SetCallbacks(onConnect, onDisconnect func()) {
	c.onConnect = onConnect
	c.onDisconnect = onDisconnect
}

// Connect dials the endpoint once and, on success, starts the
// read/reconnect loop. A failed first dial is returned as an error.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.loop()

	return nil
}

func (c *Client) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if c.onConnect != nil {
		c.onConnect()
	}

	return nil
}

// loop owns the connection for its lifetime: reads notifications/responses
// until the socket errors, then reconnects with backoff and replays every
// active subscription, matching websocket_listener.py's reconnect-and-
// resubscribe behavior.
func (c *Client) loop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		c.readUntilError()

		if c.closed.Load() {
			return
		}

		if c.onDisconnect != nil {
			c.onDisconnect()
		}

		select {
		case <-c.stopCh:
			return
		case <-time.After(c.reconnectDelay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.dial(ctx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("wsclient reconnect failed, backing off")
			select {
			case <-c.stopCh:
				return
			case <-time.After(c.errorDelay):
			}
			continue
		}

		// resubscribeAll waits for each ack, which only this loop's next
		// readUntilError can deliver, so it runs on its own goroutine.
		go c.resubscribeAll()
	}
}

func (c *Client) readUntilError() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("wsclient read error")
			return
		}

		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg []byte) {
	var probe struct {
		ID     *uint64 `json:"id"`
		Method string  `json:"method"`
	}
	if err := json.Unmarshal(msg, &probe); err != nil {
		log.Warn().Err(err).Msg("wsclient malformed message")
		return
	}

	if probe.ID != nil {
		var resp rpcResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			return
		}
		c.mu.Lock()
		pending, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if !ok {
			return
		}
		if resp.Error != nil {
			pending.errCh <- fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
			return
		}
		var subID uint64
		if err := json.Unmarshal(resp.Result, &subID); err != nil {
			pending.errCh <- fmt.Errorf("decode subscription id: %w", err)
			return
		}
		c.mu.Lock()
		c.subs[subID] = pending.handler
		c.mu.Unlock()
		pending.resultCh <- subID
		return
	}

	var note notification
	if err := json.Unmarshal(msg, &note); err != nil {
		return
	}
	c.mu.Lock()
	handler, ok := c.subs[note.Params.Subscription]
	c.mu.Unlock()
	if ok {
		go handler(note.Params.Result)
	}
}

func (c *Client) call(method string, params []interface{}, handler Handler) (uint64, error) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return 0, fmt.Errorf("wsclient: not connected")
	}
	id := c.nextID.Add(1)
	pending := &pendingSub{
		resultCh: make(chan uint64, 1),
		errCh:    make(chan error, 1),
		handler:  handler,
	}
	c.pending[id] = pending
	conn := c.conn
	c.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := conn.WriteJSON(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return 0, fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case subID := <-pending.resultCh:
		c.mu.Lock()
		c.resub[subID] = resubscribeEntry{method: method, params: params, handler: handler}
		c.mu.Unlock()
		return subID, nil
	case err := <-pending.errCh:
		return 0, err
	case <-time.After(10 * time.Second):
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return 0, fmt.Errorf("%s timed out waiting for subscription ack", method)
	}
}

// AccountSubscribe subscribes to account data changes for address.
func (c *Client) AccountSubscribe(address string, handler Handler) (uint64, error) {
	return c.call("accountSubscribe", []interface{}{address, map[string]string{"encoding": "jsonParsed", "commitment": "confirmed"}}, handler)
}

// SignatureSubscribe subscribes to confirmation status for a transaction signature.
func (c *Client) SignatureSubscribe(signature string, handler Handler) (uint64, error) {
	return c.call("signatureSubscribe", []interface{}{signature, map[string]interface{}{"commitment": "confirmed"}}, handler)
}

// LogsSubscribe subscribes to program logs mentioning any of mentions, at
// the given commitment level. Grounds Pair Discovery's listener.
func (c *Client) LogsSubscribe(mentions []string, commitment string, handler Handler) (uint64, error) {
	filter := map[string]interface{}{"mentions": mentions}
	opts := map[string]interface{}{"commitment": commitment}
	return c.call("logsSubscribe", []interface{}{filter, opts}, handler)
}

// Unsubscribe cancels a subscription. method is the RPC unsubscribe method
// name ("accountUnsubscribe", "signatureUnsubscribe", "logsUnsubscribe").
func (c *Client) Unsubscribe(method string, subID uint64) {
	c.mu.Lock()
	delete(c.subs, subID)
	delete(c.resub, subID)
	c.mu.Unlock()

	id := c.nextID.Add(1)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: []interface{}{subID}}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteJSON(req); err != nil {
		log.Warn().Err(err).Str("method", method).Msg("wsclient unsubscribe write failed")
	}
}

func (c *Client) resubscribeAll() {
	c.mu.Lock()
	entries := make([]resubscribeEntry, 0, len(c.resub))
	for _, e := range c.resub {
		entries = append(entries, e)
	}
	c.resub = make(map[uint64]resubscribeEntry)
	c.subs = make(map[uint64]Handler)
	c.mu.Unlock()

	for _, e := range entries {
		if _, err := c.call(e.method, e.params, e.handler); err != nil {
			log.Warn().Err(err).Str("method", e.method).Msg("wsclient resubscribe failed")
		}
	}
}

// Close terminates the connection and stops the reconnect loop.
func (c *Client) Close() error {
	c.closed.Store(true)
	close(c.stopCh)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}
