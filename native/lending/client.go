package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"

	"hedgepool/native/reserves"
)

var (
	ErrQueueFull      = errors.New("lending: request queue full")
	ErrClientClosed   = errors.New("lending: client closed")
	ErrInjectedFailed = errors.New("lending: injected failure")
)

type request struct {
	cont reserves.Continuation
}

// AsyncClient queues lend and withdraw requests and delivers their results to
// the adapter from a worker goroutine.
type AsyncClient struct {
	market   *Market
	queue    chan request
	logger   *slog.Logger
	failNext atomic.Int32

	mu   sync.RWMutex
	sink reserves.Callbacks

	closeOnce sync.Once
	closed    chan struct{}
}

// NewAsyncClient returns a client over market with a bounded queue.
func NewAsyncClient(market *Market, queueSize int) *AsyncClient {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &AsyncClient{
		market: market,
		queue:  make(chan request, queueSize),
		logger: slog.Default(),
		closed: make(chan struct{}),
	}
}

// Bind sets the callback receiver.
func (c *AsyncClient) Bind(sink reserves.Callbacks) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

func (c *AsyncClient) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// FailNext makes the next n requests fail when processed.
func (c *AsyncClient) FailNext(n int) { c.failNext.Store(int32(n)) }

func (c *AsyncClient) enqueue(cont reserves.Continuation) error {
	select {
	case <-c.closed:
		return ErrClientClosed
	default:
	}
	select {
	case c.queue <- request{cont: cont}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Deposit implements reserves.LendingClient.
func (c *AsyncClient) Deposit(_ context.Context, cont reserves.Continuation) error {
	if cont.Kind != reserves.KindDeposit {
		return fmt.Errorf("lending: unexpected continuation kind %q", cont.Kind)
	}
	return c.enqueue(cont)
}

// Withdraw implements reserves.LendingClient.
func (c *AsyncClient) Withdraw(_ context.Context, cont reserves.Continuation) error {
	if cont.Kind != reserves.KindWithdraw {
		return fmt.Errorf("lending: unexpected continuation kind %q", cont.Kind)
	}
	return c.enqueue(cont)
}

// Pending reports the number of queued requests.
func (c *AsyncClient) Pending() int { return len(c.queue) }

// Run processes requests until ctx is cancelled or Close is called.
func (c *AsyncClient) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		case req := <-c.queue:
			c.process(ctx, req)
		}
	}
}

// Flush processes every queued request on the calling goroutine.
func (c *AsyncClient) Flush(ctx context.Context) int {
	n := 0
	for {
		select {
		case req := <-c.queue:
			c.process(ctx, req)
			n++
		default:
			return n
		}
	}
}

// Close stops Run. Queued requests are dropped.
func (c *AsyncClient) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *AsyncClient) injected() bool {
	for {
		n := c.failNext.Load()
		if n <= 0 {
			return false
		}
		if c.failNext.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (c *AsyncClient) process(ctx context.Context, req request) {
	c.mu.RLock()
	sink := c.sink
	c.mu.RUnlock()
	if sink == nil {
		c.logger.Error("lending result dropped, no callback bound", "token", req.cont.Token)
		return
	}
	cont := req.cont
	var err error
	switch cont.Kind {
	case reserves.KindDeposit:
		err = c.deposit(ctx, sink, cont)
	case reserves.KindWithdraw:
		err = c.withdraw(ctx, sink, cont)
	}
	if err != nil {
		c.logger.Error("lending callback failed", "token", cont.Token, "asset", cont.Asset, "kind", string(cont.Kind), "error", err)
	}
}

func (c *AsyncClient) deposit(ctx context.Context, sink reserves.Callbacks, cont reserves.Continuation) error {
	if c.injected() {
		return sink.OnDepositResult(ctx, cont, ErrInjectedFailed)
	}
	nonce, err := c.market.Supply(cont.Asset, cont.Amount)
	if err != nil {
		return sink.OnDepositResult(ctx, cont, err)
	}
	if err := sink.AcceptDeposit(ctx, cont, nonce); err != nil {
		if _, redeemErr := c.market.Redeem(nonce); redeemErr != nil {
			c.logger.Error("failed to unwind rejected deposit", "nonce", nonce, "error", redeemErr)
		}
		return errors.Join(err, sink.OnDepositResult(ctx, cont, err))
	}
	return sink.OnDepositResult(ctx, cont, nil)
}

func (c *AsyncClient) withdraw(ctx context.Context, sink reserves.Callbacks, cont reserves.Continuation) error {
	if c.injected() {
		return sink.OnWithdrawResult(ctx, cont, nil, ErrInjectedFailed)
	}
	returned, err := c.market.Redeem(cont.ReceiptNonce)
	if err != nil {
		return sink.OnWithdrawResult(ctx, cont, nil, err)
	}
	return sink.OnWithdrawResult(ctx, cont, new(big.Int).Set(returned), nil)
}
