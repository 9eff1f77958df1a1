package events

import (
	"math/big"
	"strconv"

	"hedgepool/core/types"
	"hedgepool/crypto"
)

const (
	TypeCollateralWhitelisted = "pool.whitelisted"
	TypeCollateralRemoved     = "pool.removed"
	TypePoolRebalanced        = "pool.rebalanced"
	TypeFeesUpdated           = "fees.updated"
	TypeFeesSplit             = "fees.split"
	TypeLendRewardsSplit      = "lending.rewardsSplit"

	TypePositionOpened      = "hedging.opened"
	TypeMarginAdded         = "hedging.marginAdded"
	TypeMarginRemoved       = "hedging.marginRemoved"
	TypePositionClosed      = "hedging.closed"
	TypePositionForceClosed = "hedging.forceClosed"
	TypePositionLiquidated  = "hedging.liquidated"

	TypeLiquidityAdded   = "liquidity.added"
	TypeLiquidityRemoved = "liquidity.removed"

	TypeReservesLent      = "lending.lent"
	TypeLendRolledBack    = "lending.rolledBack"
	TypeReservesWithdrawn = "lending.withdrawn"
	TypeWithdrawFailed    = "lending.withdrawFailed"

	TypeSwap = "swap.executed"
)

// CollateralWhitelisted is emitted when a collateral asset gets a pool.
type CollateralWhitelisted struct {
	Asset    string
	Ticker   string
	Decimals uint32
}

func (CollateralWhitelisted) EventType() string { return TypeCollateralWhitelisted }

func (e CollateralWhitelisted) Event() *types.Event {
	return &types.Event{Type: TypeCollateralWhitelisted, Attributes: map[string]string{
		"asset":    normalizeAsset(e.Asset),
		"ticker":   e.Ticker,
		"decimals": strconv.FormatUint(uint64(e.Decimals), 10),
	}}
}

// CollateralRemoved is emitted when a clean pool leaves the whitelist.
type CollateralRemoved struct {
	Asset string
}

func (CollateralRemoved) EventType() string { return TypeCollateralRemoved }

func (e CollateralRemoved) Event() *types.Event {
	return &types.Event{Type: TypeCollateralRemoved, Attributes: map[string]string{
		"asset": normalizeAsset(e.Asset),
	}}
}

// PoolRebalanced captures the stable liability reconciliation.
type PoolRebalanced struct {
	Asset             string
	CollateralAmount  *big.Int
	OldStablecoin     *big.Int
	NewStablecoin     *big.Int
	ReservesDelta     *big.Int
	ReservesIncreased bool
}

func (PoolRebalanced) EventType() string { return TypePoolRebalanced }

func (e PoolRebalanced) Event() *types.Event {
	return &types.Event{Type: TypePoolRebalanced, Attributes: map[string]string{
		"asset":             normalizeAsset(e.Asset),
		"collateralAmount":  formatAmount(e.CollateralAmount),
		"oldStablecoin":     formatAmount(e.OldStablecoin),
		"newStablecoin":     formatAmount(e.NewStablecoin),
		"reservesDelta":     formatAmount(e.ReservesDelta),
		"reservesIncreased": strconv.FormatBool(e.ReservesIncreased),
	}}
}

// FeesUpdated captures a refreshed fee configuration snapshot.
type FeesUpdated struct {
	Asset        string
	HedgingRatio *big.Int
	MintFee      *big.Int
	BurnFee      *big.Int
	Slippage     *big.Int
}

func (FeesUpdated) EventType() string { return TypeFeesUpdated }

func (e FeesUpdated) Event() *types.Event {
	return &types.Event{Type: TypeFeesUpdated, Attributes: map[string]string{
		"asset":        normalizeAsset(e.Asset),
		"hedgingRatio": formatAmount(e.HedgingRatio),
		"mintFee":      formatAmount(e.MintFee),
		"burnFee":      formatAmount(e.BurnFee),
		"slippage":     formatAmount(e.Slippage),
	}}
}

// BucketSplit records the distribution of accumulated fees or lend rewards
// between liquidity providers and reserves.
type BucketSplit struct {
	Kind          string
	Asset         string
	ProviderShare *big.Int
	ReserveShare  *big.Int
}

func (e BucketSplit) EventType() string {
	if e.Kind == TypeLendRewardsSplit {
		return TypeLendRewardsSplit
	}
	return TypeFeesSplit
}

func (e BucketSplit) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"asset":         normalizeAsset(e.Asset),
		"providerShare": formatAmount(e.ProviderShare),
		"reserveShare":  formatAmount(e.ReserveShare),
	}}
}

// PositionOpened is emitted after a hedging position is persisted.
type PositionOpened struct {
	Nonce       uint64
	Owner       crypto.Address
	Asset       string
	Deposit     *big.Int
	Covered     *big.Int
	Fee         *big.Int
	OracleValue *big.Int
	Timestamp   int64
}

func (PositionOpened) EventType() string { return TypePositionOpened }

func (e PositionOpened) Event() *types.Event {
	return &types.Event{Type: TypePositionOpened, Attributes: map[string]string{
		"nonce":       strconv.FormatUint(e.Nonce, 10),
		"owner":       e.Owner.String(),
		"asset":       normalizeAsset(e.Asset),
		"deposit":     formatAmount(e.Deposit),
		"covered":     formatAmount(e.Covered),
		"fee":         formatAmount(e.Fee),
		"oracleValue": formatAmount(e.OracleValue),
		"timestamp":   strconv.FormatInt(e.Timestamp, 10),
	}}
}

// MarginChanged is emitted by addMargin and removeMargin.
type MarginChanged struct {
	Nonce      uint64
	Amount     *big.Int
	NewDeposit *big.Int
	Removed    bool
}

func (e MarginChanged) EventType() string {
	if e.Removed {
		return TypeMarginRemoved
	}
	return TypeMarginAdded
}

func (e MarginChanged) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"nonce":      strconv.FormatUint(e.Nonce, 10),
		"amount":     formatAmount(e.Amount),
		"newDeposit": formatAmount(e.NewDeposit),
	}}
}

// PositionClosed captures the payout released to the holder.
type PositionClosed struct {
	Nonce          uint64
	Asset          string
	CollateralPaid *big.Int
	ReceiptsIssued *big.Int
	Fee            *big.Int
	WasForceClosed bool
}

func (PositionClosed) EventType() string { return TypePositionClosed }

func (e PositionClosed) Event() *types.Event {
	return &types.Event{Type: TypePositionClosed, Attributes: map[string]string{
		"nonce":          strconv.FormatUint(e.Nonce, 10),
		"asset":          normalizeAsset(e.Asset),
		"collateralPaid": formatAmount(e.CollateralPaid),
		"receiptsIssued": formatAmount(e.ReceiptsIssued),
		"fee":            formatAmount(e.Fee),
		"forceClosed":    strconv.FormatBool(e.WasForceClosed),
	}}
}

// PositionForceClosed records the locked-in payout of a keeper force close.
type PositionForceClosed struct {
	Nonce          uint64
	Asset          string
	WithdrawAmount *big.Int
	Fee            *big.Int
	Keeper         crypto.Address
}

func (PositionForceClosed) EventType() string { return TypePositionForceClosed }

func (e PositionForceClosed) Event() *types.Event {
	return &types.Event{Type: TypePositionForceClosed, Attributes: map[string]string{
		"nonce":          strconv.FormatUint(e.Nonce, 10),
		"asset":          normalizeAsset(e.Asset),
		"withdrawAmount": formatAmount(e.WithdrawAmount),
		"fee":            formatAmount(e.Fee),
		"keeper":         e.Keeper.String(),
	}}
}

// PositionLiquidated records a forfeited deposit.
type PositionLiquidated struct {
	Nonce       uint64
	Asset       string
	Forfeited   *big.Int
	MarginRatio *big.Int
	Keeper      crypto.Address
}

func (PositionLiquidated) EventType() string { return TypePositionLiquidated }

func (e PositionLiquidated) Event() *types.Event {
	return &types.Event{Type: TypePositionLiquidated, Attributes: map[string]string{
		"nonce":       strconv.FormatUint(e.Nonce, 10),
		"asset":       normalizeAsset(e.Asset),
		"forfeited":   formatAmount(e.Forfeited),
		"marginRatio": formatAmount(e.MarginRatio),
		"keeper":      e.Keeper.String(),
	}}
}

// LiquidityChanged is emitted by addLiquidity and removeLiquidity.
type LiquidityChanged struct {
	Provider   crypto.Address
	Asset      string
	Collateral *big.Int
	Receipts   *big.Int
	Slippage   *big.Int
	Removed    bool
}

func (e LiquidityChanged) EventType() string {
	if e.Removed {
		return TypeLiquidityRemoved
	}
	return TypeLiquidityAdded
}

func (e LiquidityChanged) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"provider":   e.Provider.String(),
		"asset":      normalizeAsset(e.Asset),
		"collateral": formatAmount(e.Collateral),
		"receipts":   formatAmount(e.Receipts),
		"slippage":   formatAmount(e.Slippage),
	}}
}

// LendingEvent covers the lending adapter lifecycle.
type LendingEvent struct {
	Type         string
	Asset        string
	Token        string
	Epoch        uint64
	Amount       *big.Int
	Rewards      *big.Int
	ReceiptNonce uint64
	Reason       string
}

func (e LendingEvent) EventType() string { return e.Type }

func (e LendingEvent) Event() *types.Event {
	attrs := map[string]string{
		"asset":  normalizeAsset(e.Asset),
		"token":  e.Token,
		"epoch":  strconv.FormatUint(e.Epoch, 10),
		"amount": formatAmount(e.Amount),
	}
	if e.Rewards != nil {
		attrs["rewards"] = e.Rewards.String()
	}
	if e.ReceiptNonce != 0 {
		attrs["receiptNonce"] = strconv.FormatUint(e.ReceiptNonce, 10)
	}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	return &types.Event{Type: e.Type, Attributes: attrs}
}

// Swap captures a stable-value mint or redeem.
type Swap struct {
	Caller    crypto.Address
	Asset     string
	Direction string
	AmountIn  *big.Int
	AmountOut *big.Int
	Fee       *big.Int
}

func (Swap) EventType() string { return TypeSwap }

func (e Swap) Event() *types.Event {
	return &types.Event{Type: TypeSwap, Attributes: map[string]string{
		"caller":    e.Caller.String(),
		"asset":     normalizeAsset(e.Asset),
		"direction": e.Direction,
		"amountIn":  formatAmount(e.AmountIn),
		"amountOut": formatAmount(e.AmountOut),
		"fee":       formatAmount(e.Fee),
	}}
}
