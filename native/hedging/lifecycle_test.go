package hedging_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hedgepool/core"
	"hedgepool/core/coretest"
	"hedgepool/core/events"
	nativecommon "hedgepool/native/common"
	"hedgepool/native/fees"
	"hedgepool/native/fixedpoint"
	"hedgepool/native/hedging"
	"hedgepool/native/pool"
	"hedgepool/native/tokens"
)

// open seeds a 9.96 WETH pool and opens a 5x position covering 4 WETH.
func open(t *testing.T, env *coretest.Env) (*hedging.Position, *coretest.Env) {
	t.Helper()
	env.SeedPool(10_000_000)
	hedger := coretest.Account(t)
	env.Fund(hedger, 1_000_000)
	pos, err := env.Hedging.OpenHedgingPosition(env.Ctx, hedger, coretest.Asset, big.NewInt(1_000_000), big.NewInt(4_000_000), nil)
	require.NoError(t, err)
	owner, err := env.Tokens.OwnerOf(hedging.HedgeToken, pos.Nonce)
	require.NoError(t, err)
	require.Equal(t, hedger, owner)
	return pos, env
}

func TestOpenHedgingPosition(t *testing.T) {
	pos, env := open(t, coretest.New(t))

	// empty hedge: the entry fee is the 0.2% burn floor
	require.Equal(t, int64(998_000), pos.Deposit.Int64())
	require.Equal(t, int64(4_000_000), pos.Covered.Int64())
	require.Equal(t, 0, pos.OracleValueAtDeposit.Cmp(coretest.Price))
	require.Equal(t, env.Now.Unix(), pos.CreatedAt)

	p := env.Pool()
	require.Equal(t, int64(998_000), p.CollateralReserves.Int64())
	require.Equal(t, int64(4_000_000), p.TotalCollateralCovered.Int64())
	require.Equal(t, int64(8_000_000_000), p.TotalCoveredValueInStablecoin.Int64())

	accrued, err := env.Fees.Accumulated(fees.BucketFees, coretest.Asset)
	require.NoError(t, err)
	require.Equal(t, int64(42_000), accrued.Int64())
	require.Contains(t, env.Recorder.Types(), events.TypePositionOpened)

	health, err := env.Hedging.Inspect(env.Ctx, pos.Nonce)
	require.NoError(t, err)
	require.False(t, health.Liquidable)
	require.Equal(t, int64(4_000_000+998_000)*10_000_000/998_000, health.Leverage.Int64())
}

func TestOpenRejections(t *testing.T) {
	env := coretest.New(t)
	env.SeedPool(10_000_000)
	hedger := coretest.Account(t)
	env.Fund(hedger, 1_000_000)
	pay := big.NewInt(1_000_000)

	_, err := env.Hedging.OpenHedgingPosition(env.Ctx, hedger, coretest.Asset, pay, big.NewInt(5_000_000), nil)
	require.ErrorIs(t, err, hedging.ErrOverTargetHedge)
	_, err = env.Hedging.OpenHedgingPosition(env.Ctx, hedger, coretest.Asset, big.NewInt(100_000), big.NewInt(4_000_000), nil)
	require.ErrorIs(t, err, hedging.ErrLeverageTooHigh)
	_, err = env.Hedging.OpenHedgingPosition(env.Ctx, hedger, coretest.Asset, pay, big.NewInt(1_000_000), big.NewInt(1_999_999_999))
	require.ErrorIs(t, err, hedging.ErrOracleAboveMax)
	_, err = env.Hedging.OpenHedgingPosition(env.Ctx, hedger, coretest.Asset, pay, nil, nil)
	require.ErrorIs(t, err, hedging.ErrInvalidAmount)
	_, err = env.Hedging.OpenHedgingPosition(env.Ctx, hedger, "DOGE", pay, big.NewInt(1), nil)
	require.ErrorIs(t, err, pool.ErrNotWhitelisted)

	// every rejection leaves the payment untouched
	require.Equal(t, int64(1_000_000), env.Balance(hedger, coretest.Asset).Int64())
	require.Zero(t, env.Pool().TotalCollateralCovered.Sign())

	env.Pauses.Set(nativecommon.ModuleHedging, true)
	_, err = env.Hedging.OpenHedgingPosition(env.Ctx, hedger, coretest.Asset, pay, big.NewInt(1_000_000), nil)
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
}

func TestMarginChanges(t *testing.T) {
	pos, env := open(t, coretest.New(t))
	hedger, err := env.Tokens.OwnerOf(hedging.HedgeToken, pos.Nonce)
	require.NoError(t, err)
	env.Fund(hedger, 100_000)

	added, err := env.Hedging.AddMargin(env.Ctx, hedger, pos.Nonce, big.NewInt(100_000))
	require.NoError(t, err)
	require.Equal(t, int64(1_098_000), added.Deposit.Int64())
	require.Equal(t, int64(1_098_000), env.Pool().CollateralReserves.Int64())

	_, err = env.Hedging.RemoveMargin(env.Ctx, hedger, pos.Nonce, big.NewInt(1_098_000))
	require.ErrorIs(t, err, hedging.ErrRemoveExceedsDeposit)
	_, err = env.Hedging.RemoveMargin(env.Ctx, hedger, pos.Nonce, big.NewInt(700_000))
	require.ErrorIs(t, err, hedging.ErrLeverageTooHigh)

	removed, err := env.Hedging.RemoveMargin(env.Ctx, hedger, pos.Nonce, big.NewInt(500_000))
	require.NoError(t, err)
	require.Equal(t, int64(598_000), removed.Deposit.Int64())
	require.Equal(t, int64(500_000), env.Balance(hedger, coretest.Asset).Int64())
	require.Equal(t, int64(598_000), env.Pool().CollateralReserves.Int64())

	stranger := coretest.Account(t)
	env.Fund(stranger, 1)
	_, err = env.Hedging.AddMargin(env.Ctx, stranger, pos.Nonce, big.NewInt(1))
	require.ErrorIs(t, err, hedging.ErrNotHolder)
}

func TestCloseWithGainPaysReceiptsBeyondReserves(t *testing.T) {
	pos, env := open(t, coretest.New(t))
	hedger, err := env.Tokens.OwnerOf(hedging.HedgeToken, pos.Nonce)
	require.NoError(t, err)

	env.SetPrice(2_500_000_000)
	quote, err := env.Fees.Quote(coretest.Asset)
	require.NoError(t, err)
	// a 25% rise on 4 WETH of cover adds 0.8 WETH to the deposit
	fee := fees.Apply(big.NewInt(1_798_000), quote.ClosePositionFee()).Fee

	_, err = env.Hedging.CloseHedgingPosition(env.Ctx, hedger, pos.Nonce, big.NewInt(2_600_000_000))
	require.ErrorIs(t, err, hedging.ErrOracleBelowMin)

	res, err := env.Hedging.CloseHedgingPosition(env.Ctx, hedger, pos.Nonce, nil)
	require.NoError(t, err)
	require.False(t, res.WasForceClosed)
	require.Equal(t, 0, res.Fee.Cmp(fee))
	require.Equal(t, new(big.Int).Sub(big.NewInt(998_000), fee).Int64(), res.Collateral.Int64())
	require.Equal(t, int64(800_000), res.LiquidityUnits.Int64())

	require.Equal(t, 0, env.Balance(hedger, coretest.Asset).Cmp(res.Collateral))
	require.Equal(t, int64(800_000), env.Balance(hedger, tokens.LiquidityToken(coretest.Asset)).Int64())
	p := env.Pool()
	require.Zero(t, p.CollateralReserves.Sign())
	require.Zero(t, p.TotalCollateralCovered.Sign())
	rp, err := env.Liquidity.ReceiptPool(coretest.Asset)
	require.NoError(t, err)
	require.Equal(t, int64(800_000), rp.Outstanding.Int64())
	require.Equal(t, int64(800_000), rp.Backing.Int64())

	_, err = env.Hedging.Position(env.Ctx, pos.Nonce)
	require.ErrorIs(t, err, hedging.ErrPositionNotFound)
	_, err = env.Tokens.OwnerOf(hedging.HedgeToken, pos.Nonce)
	require.ErrorIs(t, err, tokens.ErrReceiptNotFound)

	// a new provider deposits at par and the hedger can redeem the receipts
	provider := coretest.Account(t)
	env.Fund(provider, 1_000_000)
	added, err := env.Liquidity.AddLiquidity(env.Ctx, provider, coretest.Asset, big.NewInt(1_000_000))
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), added.Receipts.Int64())

	redeemed, err := env.Liquidity.RemoveLiquidity(env.Ctx, hedger, coretest.Asset, big.NewInt(800_000), nil)
	require.NoError(t, err)
	require.Equal(t, int64(799_200), redeemed.Collateral.Int64())
	require.Equal(t, int64(800), redeemed.Slippage.Int64())
	require.Zero(t, env.Balance(hedger, tokens.LiquidityToken(coretest.Asset)).Sign())
	require.Equal(t, int64(200_800), env.Pool().CollateralReserves.Int64())
}

func TestCloseWithLossLeavesLossInReserves(t *testing.T) {
	pos, env := open(t, coretest.New(t))
	hedger, err := env.Tokens.OwnerOf(hedging.HedgeToken, pos.Nonce)
	require.NoError(t, err)

	env.SetPrice(1_900_000_000)
	quote, err := env.Fees.Quote(coretest.Asset)
	require.NoError(t, err)
	// entry/exit = 1.0526315, so the loss is 210_526 of the deposit
	fee := fees.Apply(big.NewInt(787_474), quote.ClosePositionFee()).Fee

	res, err := env.Hedging.CloseHedgingPosition(env.Ctx, hedger, pos.Nonce, nil)
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Sub(big.NewInt(787_474), fee).Int64(), res.Collateral.Int64())
	require.Zero(t, res.LiquidityUnits.Sign())
	require.Equal(t, int64(210_526), env.Pool().CollateralReserves.Int64())
}

func TestOpenThenCloseCostsBothFees(t *testing.T) {
	pos, env := open(t, coretest.New(t))
	hedger, err := env.Tokens.OwnerOf(hedging.HedgeToken, pos.Nonce)
	require.NoError(t, err)
	quote, err := env.Fees.Quote(coretest.Asset)
	require.NoError(t, err)
	closeFee := fees.Apply(pos.Deposit, quote.ClosePositionFee()).Fee
	require.Positive(t, closeFee.Sign())

	res, err := env.Hedging.CloseHedgingPosition(env.Ctx, hedger, pos.Nonce, nil)
	require.NoError(t, err)
	require.Equal(t, 0, res.Fee.Cmp(closeFee))
	require.Equal(t, pos.Deposit.Int64()-closeFee.Int64(), res.Collateral.Int64())
	require.Zero(t, res.LiquidityUnits.Sign())

	// the hedger is out exactly the entry and exit fees
	lost := big.NewInt(1_000_000 - env.Balance(hedger, coretest.Asset).Int64())
	require.Equal(t, 2_000+closeFee.Int64(), lost.Int64())
	require.Zero(t, env.Pool().CollateralReserves.Sign())
	accrued, err := env.Fees.Accumulated(fees.BucketFees, coretest.Asset)
	require.NoError(t, err)
	require.Equal(t, 42_000+closeFee.Int64(), accrued.Int64())
}

func TestFeesUseLiveQuote(t *testing.T) {
	env := coretest.New(t)
	env.SeedPool(10_000_000)
	cached, err := env.Keeper.UpdateFeesPercentage(env.Ctx, env.Operator, coretest.Asset)
	require.NoError(t, err)
	require.Zero(t, cached.HedgingRatio.Sign())

	first := coretest.Account(t)
	env.Fund(first, 1_000_000)
	_, err = env.Hedging.OpenHedgingPosition(env.Ctx, first, coretest.Asset, big.NewInt(1_000_000), big.NewInt(4_000_000), nil)
	require.NoError(t, err)

	// the cache still holds the empty-pool burn floor, the live quote does not
	quote, err := env.Fees.Quote(coretest.Asset)
	require.NoError(t, err)
	live := fees.Apply(big.NewInt(100_000), quote.OpenPositionFee())
	stale := fees.Apply(big.NewInt(100_000), cached.OpenPositionFee())
	require.Equal(t, 1, live.Fee.Cmp(stale.Fee))

	second := coretest.Account(t)
	env.Fund(second, 100_000)
	pos, err := env.Hedging.OpenHedgingPosition(env.Ctx, second, coretest.Asset, big.NewInt(100_000), big.NewInt(100_000), nil)
	require.NoError(t, err)
	require.Equal(t, 0, pos.Deposit.Cmp(live.Net))

	snapshot, err := env.Fees.Snapshot(env.Ctx, coretest.Asset)
	require.NoError(t, err)
	require.Equal(t, 0, snapshot.BurnFee.Cmp(cached.BurnFee))
}

func TestCloseFeeBeyondReservesIsNotAccrued(t *testing.T) {
	first, env := open(t, coretest.New(t))
	firstHolder, err := env.Tokens.OwnerOf(hedging.HedgeToken, first.Nonce)
	require.NoError(t, err)
	second := coretest.Account(t)
	env.Fund(second, 500_000)
	pos, err := env.Hedging.OpenHedgingPosition(env.Ctx, second, coretest.Asset, big.NewInt(500_000), big.NewInt(900_000), nil)
	require.NoError(t, err)

	// the first close pays out every unit of reserves
	env.SetPrice(2_500_000_000)
	_, err = env.Hedging.CloseHedgingPosition(env.Ctx, firstHolder, first.Nonce, nil)
	require.NoError(t, err)
	require.Zero(t, env.Pool().CollateralReserves.Sign())
	before, err := env.Fees.Accumulated(fees.BucketFees, coretest.Asset)
	require.NoError(t, err)

	res, err := env.Hedging.CloseHedgingPosition(env.Ctx, second, pos.Nonce, nil)
	require.NoError(t, err)
	require.Positive(t, res.Fee.Sign())
	require.Zero(t, res.Collateral.Sign())
	// 20% on 0.9 WETH of cover, settled entirely in receipts
	want := pos.Deposit.Int64() + 180_000 - res.Fee.Int64()
	require.Equal(t, want, res.LiquidityUnits.Int64())

	after, err := env.Fees.Accumulated(fees.BucketFees, coretest.Asset)
	require.NoError(t, err)
	require.Equal(t, 0, before.Cmp(after))
}

func TestEntryFeeOnEmptyHedge(t *testing.T) {
	env := coretest.New(t)
	cfg := coretest.AssetConfig()
	cfg.ID, cfg.Ticker, cfg.Decimals = "WBTC", "WBTC/USD", 0
	require.NoError(t, env.Pools.AddCollateralToWhitelist(env.Ctx, env.Owner, cfg))
	env.Prices["WBTC/USD"] = big.NewInt(100)
	require.NoError(t, env.Pools.Update("WBTC", func(p *pool.Pool) error {
		p.CollateralAmount = big.NewInt(1_000_000)
		p.StablecoinAmount = big.NewInt(100_000_000)
		return nil
	}))

	hedger := coretest.Account(t)
	require.NoError(t, env.Tokens.Mint(hedger, "WBTC", big.NewInt(20_000)))
	pos, err := env.Hedging.OpenHedgingPosition(env.Ctx, hedger, "WBTC", big.NewInt(20_000), big.NewInt(100_000), nil)
	require.NoError(t, err)

	// nothing is hedged yet, so entry pays the 0.2% floor
	require.Equal(t, int64(19_960), pos.Deposit.Int64())
	accrued, err := env.Fees.Accumulated(fees.BucketFees, "WBTC")
	require.NoError(t, err)
	require.Equal(t, int64(40), accrued.Int64())

	p, _, err := env.Pools.Pool(env.Ctx, "WBTC")
	require.NoError(t, err)
	require.Equal(t, int64(100_000), p.TotalCollateralCovered.Int64())
	require.Equal(t, int64(10_000_000), p.TotalCoveredValueInStablecoin.Int64())
	quote, err := env.Fees.Quote("WBTC")
	require.NoError(t, err)
	// 10M of cover against a 50M target
	require.Equal(t, int64(fixedpoint.One/5), quote.HedgingRatio.Int64())
}

func TestReceiptTransferMovesCloseRight(t *testing.T) {
	pos, env := open(t, coretest.New(t))
	hedger, err := env.Tokens.OwnerOf(hedging.HedgeToken, pos.Nonce)
	require.NoError(t, err)
	buyer := coretest.Account(t)
	require.NoError(t, env.Tokens.Transfer(hedger, buyer, hedging.HedgeToken, pos.Nonce, big.NewInt(1)))

	_, err = env.Hedging.CloseHedgingPosition(env.Ctx, hedger, pos.Nonce, nil)
	require.ErrorIs(t, err, hedging.ErrNotHolder)
	res, err := env.Hedging.CloseHedgingPosition(env.Ctx, buyer, pos.Nonce, nil)
	require.NoError(t, err)
	require.Equal(t, 0, env.Balance(buyer, coretest.Asset).Cmp(res.Collateral))
}

func TestCloseTooEarly(t *testing.T) {
	env := coretest.New(t, func(o *core.Options) { o.MinHedgingPeriod = time.Hour })
	pos, env := open(t, env)
	hedger, err := env.Tokens.OwnerOf(hedging.HedgeToken, pos.Nonce)
	require.NoError(t, err)

	_, err = env.Hedging.CloseHedgingPosition(env.Ctx, hedger, pos.Nonce, nil)
	require.ErrorIs(t, err, hedging.ErrTooEarly)
	env.Advance(time.Hour)
	_, err = env.Hedging.CloseHedgingPosition(env.Ctx, hedger, pos.Nonce, nil)
	require.NoError(t, err)
}

func TestForceCloseThenClaim(t *testing.T) {
	env := coretest.New(t)
	seller := coretest.Account(t)
	env.Fund(seller, 10_000_000)
	_, err := env.Swap.SellCollateral(env.Ctx, seller, coretest.Asset, big.NewInt(10_000_000), nil)
	require.NoError(t, err)
	hedger := coretest.Account(t)
	env.Fund(hedger, 1_000_000)
	pos, err := env.Hedging.OpenHedgingPosition(env.Ctx, hedger, coretest.Asset, big.NewInt(1_000_000), big.NewInt(4_000_000), nil)
	require.NoError(t, err)

	_, err = env.Hedging.ForceCloseHedgingPosition(env.Ctx, env.Operator, pos.Nonce)
	require.ErrorIs(t, err, hedging.ErrUnderLimitHedge)
	_, err = env.Hedging.ForceCloseHedgingPosition(env.Ctx, hedger, pos.Nonce)
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)

	// 8e9 of cover against 8.72e9 of stable passes the 90% limit
	_, err = env.Swap.BuyCollateral(env.Ctx, seller, coretest.Asset, big.NewInt(11_200_000_000), nil)
	require.NoError(t, err)

	settlement, err := env.Hedging.ForceCloseHedgingPosition(env.Ctx, env.Operator, pos.Nonce)
	require.NoError(t, err)
	require.Equal(t, int64(998_000), settlement.Base.Int64())
	require.Equal(t, int64(1_996), settlement.Fee.Int64())
	require.Equal(t, int64(996_004), settlement.Withdraw.Int64())

	stored, err := env.Hedging.Position(env.Ctx, pos.Nonce)
	require.NoError(t, err)
	require.True(t, stored.IsClosed())
	_, err = env.Hedging.AddMargin(env.Ctx, hedger, pos.Nonce, big.NewInt(1))
	require.ErrorIs(t, err, hedging.ErrPositionClosed)
	_, err = env.Hedging.ForceCloseHedgingPosition(env.Ctx, env.Operator, pos.Nonce)
	require.ErrorIs(t, err, hedging.ErrPositionClosed)
	require.Error(t, env.Hedging.HasOpenPositions(coretest.Asset))

	// later price moves no longer matter to a force-closed position
	env.SetPrice(3_000_000_000)
	res, err := env.Hedging.CloseHedgingPosition(env.Ctx, hedger, pos.Nonce, nil)
	require.NoError(t, err)
	require.True(t, res.WasForceClosed)
	require.Equal(t, int64(996_004), res.Collateral.Int64())
	require.Zero(t, res.LiquidityUnits.Sign())
	require.Zero(t, res.Fee.Sign())
	require.Equal(t, int64(996_004), env.Balance(hedger, coretest.Asset).Int64())
	require.Zero(t, env.Pool().CollateralReserves.Sign())
	require.Contains(t, env.Recorder.Types(), events.TypePositionForceClosed)
}

func TestLiquidation(t *testing.T) {
	env := coretest.New(t)
	env.SeedPool(10_000_000)
	hedger := coretest.Account(t)
	env.Fund(hedger, 500_000)
	pos, err := env.Hedging.OpenHedgingPosition(env.Ctx, hedger, coretest.Asset, big.NewInt(500_000), big.NewInt(4_000_000), nil)
	require.NoError(t, err)

	before := env.Pool()
	err = env.Hedging.LiquidateHedgingPosition(env.Ctx, env.Operator, pos.Nonce)
	require.ErrorIs(t, err, hedging.ErrAboveMaintenanceRatio)

	// a rejected liquidation changes nothing
	after := env.Pool()
	require.Equal(t, 0, before.CollateralAmount.Cmp(after.CollateralAmount))
	require.Equal(t, 0, before.StablecoinAmount.Cmp(after.StablecoinAmount))
	require.Equal(t, 0, before.CollateralReserves.Cmp(after.CollateralReserves))
	require.Equal(t, 0, before.TotalCollateralCovered.Cmp(after.TotalCollateralCovered))
	require.Equal(t, 0, before.TotalCoveredValueInStablecoin.Cmp(after.TotalCoveredValueInStablecoin))
	stored, err := env.Hedging.Position(env.Ctx, pos.Nonce)
	require.NoError(t, err)
	require.Equal(t, 0, stored.Deposit.Cmp(pos.Deposit))
	require.Equal(t, 0, stored.Covered.Cmp(pos.Covered))
	require.False(t, stored.IsClosed())
	owner, err := env.Tokens.OwnerOf(hedging.HedgeToken, pos.Nonce)
	require.NoError(t, err)
	require.Equal(t, hedger, owner)

	env.SetPrice(1_780_000_000)
	require.NoError(t, env.Hedging.LiquidateHedgingPosition(env.Ctx, env.Operator, pos.Nonce))

	p := env.Pool()
	require.Zero(t, p.TotalCollateralCovered.Sign())
	// the forfeited deposit stays in reserves
	require.Equal(t, int64(499_000), p.CollateralReserves.Int64())
	require.Zero(t, env.Balance(hedger, coretest.Asset).Sign())
	_, err = env.Tokens.OwnerOf(hedging.HedgeToken, pos.Nonce)
	require.ErrorIs(t, err, tokens.ErrReceiptNotFound)

	left, err := env.Hedging.Positions(env.Ctx, coretest.Asset)
	require.NoError(t, err)
	require.Empty(t, left)
	require.NoError(t, env.Hedging.HasOpenPositions(coretest.Asset))
}
