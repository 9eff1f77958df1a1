package liquidity_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"hedgepool/core/coretest"
	"hedgepool/core/events"
	nativecommon "hedgepool/native/common"
	"hedgepool/native/fixedpoint"
	"hedgepool/native/liquidity"
	"hedgepool/native/tokens"
)

func TestAddAndRemoveLiquidity(t *testing.T) {
	env := coretest.New(t)
	provider := coretest.Account(t)
	env.Fund(provider, 1_000_000)

	added, err := env.Liquidity.AddLiquidity(env.Ctx, provider, coretest.Asset, big.NewInt(1_000_000))
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), added.Receipts.Int64())
	require.Equal(t, int64(1_000_000), env.Pool().CollateralReserves.Int64())
	require.Equal(t, int64(1_000_000), env.Balance(provider, tokens.LiquidityToken(coretest.Asset)).Int64())

	// an unhedged pool charges the 0.1% slippage floor
	_, err = env.Liquidity.RemoveLiquidity(env.Ctx, provider, coretest.Asset, big.NewInt(400_000), big.NewInt(399_601))
	require.ErrorIs(t, err, liquidity.ErrSlippageExceeded)

	removed, err := env.Liquidity.RemoveLiquidity(env.Ctx, provider, coretest.Asset, big.NewInt(400_000), big.NewInt(399_600))
	require.NoError(t, err)
	require.Equal(t, int64(399_600), removed.Collateral.Int64())
	require.Equal(t, int64(400), removed.Slippage.Int64())
	require.Equal(t, int64(399_600), env.Balance(provider, coretest.Asset).Int64())
	require.Equal(t, int64(600_400), env.Pool().CollateralReserves.Int64())

	rp, err := env.Liquidity.ReceiptPool(coretest.Asset)
	require.NoError(t, err)
	require.Equal(t, int64(600_000), rp.Backing.Int64())
	require.Equal(t, int64(600_000), rp.Outstanding.Int64())

	var changes int
	for _, typ := range env.Recorder.Types() {
		if typ == events.TypeLiquidityAdded || typ == events.TypeLiquidityRemoved {
			changes++
		}
	}
	require.Equal(t, 2, changes)
	require.Error(t, env.Liquidity.Outstanding(coretest.Asset))
}

func TestRemoveNeedsReserves(t *testing.T) {
	env := coretest.New(t)
	provider := coretest.Account(t)
	env.Fund(provider, 1_000_000)
	_, err := env.Liquidity.AddLiquidity(env.Ctx, provider, coretest.Asset, big.NewInt(1_000_000))
	require.NoError(t, err)

	_, err = env.Reserves.Lend(env.Ctx, env.Operator, coretest.Asset)
	require.NoError(t, err)
	_, err = env.Liquidity.RemoveLiquidity(env.Ctx, provider, coretest.Asset, big.NewInt(1_000_000), nil)
	require.ErrorIs(t, err, liquidity.ErrInsufficientReserves)
	require.Equal(t, int64(1_000_000), env.Balance(provider, tokens.LiquidityToken(coretest.Asset)).Int64())

	_, err = env.Liquidity.RemoveLiquidity(env.Ctx, provider, coretest.Asset, big.NewInt(2_000_000), nil)
	require.Error(t, err)
}

func TestIssueForCollateralKeepsUnitValue(t *testing.T) {
	env := coretest.New(t)
	provider := coretest.Account(t)
	env.Fund(provider, 1_000_000)
	_, err := env.Liquidity.AddLiquidity(env.Ctx, provider, coretest.Asset, big.NewInt(1_000_000))
	require.NoError(t, err)

	holder := coretest.Account(t)
	issued, err := env.Liquidity.IssueForCollateral(holder, coretest.Asset, big.NewInt(500_000))
	require.NoError(t, err)
	require.Equal(t, int64(500_000), issued.Int64())

	unit, err := env.Liquidity.Unit(coretest.Asset)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), unit.Int64())
	rp, err := env.Liquidity.ReceiptPool(coretest.Asset)
	require.NoError(t, err)
	require.Equal(t, int64(1_500_000), rp.Backing.Int64())
	require.Equal(t, int64(1_500_000), rp.Outstanding.Int64())

	position, err := env.Liquidity.ProviderPosition(env.Ctx, provider, coretest.Asset)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), position.Value.Int64())

	zero, err := env.Liquidity.IssueForCollateral(holder, coretest.Asset, nil)
	require.NoError(t, err)
	require.Zero(t, zero.Sign())
}

func TestIssueWithoutProvidersIsBacked(t *testing.T) {
	env := coretest.New(t)
	holder := coretest.Account(t)
	issued, err := env.Liquidity.IssueForCollateral(holder, coretest.Asset, big.NewInt(300_000))
	require.NoError(t, err)
	require.Equal(t, int64(300_000), issued.Int64())

	// a later provider still gets receipts at par
	provider := coretest.Account(t)
	env.Fund(provider, 1_000_000)
	added, err := env.Liquidity.AddLiquidity(env.Ctx, provider, coretest.Asset, big.NewInt(1_000_000))
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), added.Receipts.Int64())

	position, err := env.Liquidity.ProviderPosition(env.Ctx, holder, coretest.Asset)
	require.NoError(t, err)
	require.Equal(t, int64(300_000), position.Value.Int64())
}

func TestUnbackedReceiptsRejectDeposits(t *testing.T) {
	env := coretest.New(t)
	require.NoError(t, env.Store.PutReceiptPool(coretest.Asset, &liquidity.ReceiptPool{Backing: big.NewInt(0), Outstanding: big.NewInt(500)}))
	unit, err := env.Liquidity.Unit(coretest.Asset)
	require.NoError(t, err)
	require.Zero(t, unit.Sign())

	provider := coretest.Account(t)
	env.Fund(provider, 1_000)
	_, err = env.Liquidity.AddLiquidity(env.Ctx, provider, coretest.Asset, big.NewInt(1_000))
	require.ErrorIs(t, err, liquidity.ErrReceiptsUnbacked)
	require.Equal(t, int64(1_000), env.Balance(provider, coretest.Asset).Int64())

	_, err = env.Liquidity.IssueForCollateral(provider, coretest.Asset, big.NewInt(1_000))
	require.ErrorIs(t, err, liquidity.ErrReceiptsUnbacked)
}

func TestRemoveAtFullHedgeReturnsDeposit(t *testing.T) {
	env := coretest.New(t)
	env.SeedPool(10_000_000)
	hedger := coretest.Account(t)
	env.Fund(hedger, 1_000_000)
	// 4.98 WETH at 2000 fills the target hedge exactly
	_, err := env.Hedging.OpenHedgingPosition(env.Ctx, hedger, coretest.Asset, big.NewInt(1_000_000), big.NewInt(4_980_000), nil)
	require.NoError(t, err)
	quote, err := env.Fees.Quote(coretest.Asset)
	require.NoError(t, err)
	require.Equal(t, int64(fixedpoint.One), quote.HedgingRatio.Int64())

	provider := coretest.Account(t)
	env.Fund(provider, 1_000_000)
	added, err := env.Liquidity.AddLiquidity(env.Ctx, provider, coretest.Asset, big.NewInt(1_000_000))
	require.NoError(t, err)
	removed, err := env.Liquidity.RemoveLiquidity(env.Ctx, provider, coretest.Asset, added.Receipts, big.NewInt(1_000_000))
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), removed.Collateral.Int64())
	require.Zero(t, removed.Slippage.Sign())
	require.Equal(t, int64(1_000_000), env.Balance(provider, coretest.Asset).Int64())
	require.Zero(t, env.Balance(provider, tokens.LiquidityToken(coretest.Asset)).Sign())
}

func TestLiquidityGuards(t *testing.T) {
	env := coretest.New(t)
	provider := coretest.Account(t)
	env.Fund(provider, 10)

	_, err := env.Liquidity.AddLiquidity(env.Ctx, provider, coretest.Asset, big.NewInt(0))
	require.ErrorIs(t, err, liquidity.ErrInvalidAmount)
	_, err = env.Liquidity.RemoveLiquidity(env.Ctx, provider, coretest.Asset, nil, nil)
	require.ErrorIs(t, err, liquidity.ErrInvalidAmount)

	env.Pauses.Set(nativecommon.ModuleLiquidity, true)
	_, err = env.Liquidity.AddLiquidity(env.Ctx, provider, coretest.Asset, big.NewInt(10))
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
}

func TestUnitValue(t *testing.T) {
	precision := big.NewInt(1_000_000)
	require.Equal(t, int64(1_000_000), liquidity.UnitValue(nil, precision).Int64())
	rp := &liquidity.ReceiptPool{Backing: big.NewInt(3_000), Outstanding: big.NewInt(2_000)}
	require.Equal(t, int64(1_500_000), liquidity.UnitValue(rp, precision).Int64())
	empty := &liquidity.ReceiptPool{Backing: big.NewInt(0), Outstanding: big.NewInt(2_000)}
	require.Zero(t, liquidity.UnitValue(empty, precision).Sign())
}
