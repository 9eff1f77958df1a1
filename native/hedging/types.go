package hedging

import (
	"errors"
	"math/big"

	"hedgepool/native/fixedpoint"
)

// HedgeToken is the receipt token identifying hedging positions.
const HedgeToken = "HEDGE"

var (
	ErrInvalidAmount         = errors.New("hedging: amount must be positive")
	ErrOracleAboveMax        = errors.New("hedging: oracle value is higher than the provided max")
	ErrOracleBelowMin        = errors.New("hedging: oracle value is lower than the provided min")
	ErrOverTargetHedge       = errors.New("hedging: position would go over target hedge amount")
	ErrCoverExceedsPool      = errors.New("hedging: trying to cover too much collateral")
	ErrPaymentBelowFee       = errors.New("hedging: payment does not cover entry fee")
	ErrLeverageTooHigh       = errors.New("hedging: leverage too high")
	ErrPositionNotFound      = errors.New("hedging: position does not exist or was liquidated")
	ErrPositionClosed        = errors.New("hedging: position already closed")
	ErrNotHolder             = errors.New("hedging: caller does not hold the position receipt")
	ErrTooEarly              = errors.New("hedging: trying to close too early")
	ErrRemoveExceedsDeposit  = errors.New("hedging: remove amount higher than total deposit")
	ErrInsufficientReserves  = errors.New("hedging: not enough reserves in pool")
	ErrUnderLimitHedge       = errors.New("hedging: may only force close after limit hedge amount is passed")
	ErrAboveMaintenanceRatio = errors.New("hedging: margin ratio above maintenance ratio")
	errNilState              = errors.New("hedging: state not configured")
)

// Position is an open or force-closed hedge identified by its receipt nonce.
type Position struct {
	Nonce                   uint64
	Asset                   string
	Deposit                 *big.Int
	Covered                 *big.Int
	OracleValueAtDeposit    *big.Int
	CreatedAt               int64
	WithdrawAfterForceClose *big.Int
}

// IsClosed reports whether a keeper already force closed the position.
func (p *Position) IsClosed() bool {
	return p != nil && p.WithdrawAfterForceClose != nil
}

// Clone returns a deep copy.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	out := *p
	out.Deposit = fixedpoint.Clone(p.Deposit)
	out.Covered = fixedpoint.Clone(p.Covered)
	out.OracleValueAtDeposit = fixedpoint.Clone(p.OracleValueAtDeposit)
	if p.WithdrawAfterForceClose != nil {
		out.WithdrawAfterForceClose = new(big.Int).Set(p.WithdrawAfterForceClose)
	}
	return &out
}

// PositionRepository persists positions keyed by receipt nonce.
type PositionRepository interface {
	GetPosition(nonce uint64) (*Position, bool, error)
	PutPosition(p *Position) error
	DeletePosition(nonce uint64) error
	ListPositions(asset string) ([]*Position, error)
}

// Settlement is the payout of a closing position.
type Settlement struct {
	Base     *big.Int
	Fee      *big.Int
	Withdraw *big.Int
}

// CloseResult describes what the holder received.
type CloseResult struct {
	Nonce          uint64
	Collateral     *big.Int
	LiquidityUnits *big.Int
	Fee            *big.Int
	WasForceClosed bool
}
