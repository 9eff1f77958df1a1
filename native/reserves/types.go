package reserves

import (
	"context"
	"errors"
	"math/big"
	"time"

	"hedgepool/native/fixedpoint"
)

var (
	ErrAlreadyLent          = errors.New("reserves: reserves already on loan")
	ErrNotLent              = errors.New("reserves: no reserves on loan")
	ErrNothingToLend        = errors.New("reserves: nothing to lend")
	ErrReservesFloor        = errors.New("reserves: lending would leave reserves below the floor")
	ErrTooEarly             = errors.New("reserves: minimum lend epochs not reached")
	ErrDepositPending       = errors.New("reserves: deposit not yet accepted")
	ErrWithdrawPending      = errors.New("reserves: withdraw already in flight")
	ErrUnknownContinuation  = errors.New("reserves: unknown or completed continuation")
	ErrReceiptAlreadySet    = errors.New("reserves: lend receipt already recorded")
	ErrRequestFailed        = errors.New("reserves: lending request failed")
	ErrInvalidReturnedValue = errors.New("reserves: invalid returned amount")
	errNilState             = errors.New("reserves: state not configured")
)

// Kind names the leg a continuation resolves.
type Kind string

const (
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
)

// LendMetadata exists while an asset's reserves are on loan.
type LendMetadata struct {
	Epoch        uint64
	Amount       *big.Int
	ReceiptNonce uint64
}

// Clone returns a deep copy.
func (m *LendMetadata) Clone() *LendMetadata {
	if m == nil {
		return nil
	}
	out := *m
	out.Amount = fixedpoint.Clone(m.Amount)
	return &out
}

// Accepted reports whether the external market acknowledged the deposit.
func (m *LendMetadata) Accepted() bool { return m != nil && m.ReceiptNonce != 0 }

// Continuation carries everything a callback needs to resolve a request. The
// Token correlates the request with its callback.
type Continuation struct {
	Token        string
	Asset        string
	Kind         Kind
	Epoch        uint64
	Amount       *big.Int
	ReceiptNonce uint64
	CreatedAt    int64
}

// Clone returns a deep copy.
func (c *Continuation) Clone() *Continuation {
	if c == nil {
		return nil
	}
	out := *c
	out.Amount = fixedpoint.Clone(c.Amount)
	return &out
}

// Repository persists loan metadata and in-flight continuations.
type Repository interface {
	GetLend(asset string) (*LendMetadata, bool, error)
	PutLend(asset string, meta *LendMetadata) error
	DeleteLend(asset string) error
	GetPending(token string) (*Continuation, bool, error)
	PutPending(c *Continuation) error
	DeletePending(token string) error
	ListPending() ([]*Continuation, error)
}

// LendingClient issues requests to the external yield source. Results arrive
// later through Callbacks. A returned error means the request was never
// accepted for processing.
type LendingClient interface {
	Deposit(ctx context.Context, cont Continuation) error
	Withdraw(ctx context.Context, cont Continuation) error
}

// Callbacks is the surface the lending client reports results to.
type Callbacks interface {
	AcceptDeposit(ctx context.Context, cont Continuation, receiptNonce uint64) error
	OnDepositResult(ctx context.Context, cont Continuation, cause error) error
	OnWithdrawResult(ctx context.Context, cont Continuation, returned *big.Int, cause error) error
}

// EpochSource reports the current lending epoch.
type EpochSource interface {
	Epoch() uint64
}

// EpochFunc adapts a function to EpochSource.
type EpochFunc func() uint64

func (f EpochFunc) Epoch() uint64 { return f() }

// TimeEpochs counts whole periods of length elapsed since genesis.
func TimeEpochs(genesis time.Time, length time.Duration, now func() time.Time) EpochSource {
	if now == nil {
		now = time.Now
	}
	return EpochFunc(func() uint64 {
		if length <= 0 {
			return 0
		}
		elapsed := now().Sub(genesis)
		if elapsed <= 0 {
			return 0
		}
		return uint64(elapsed / length)
	})
}
