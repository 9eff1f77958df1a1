package reserves_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hedgepool/core"
	"hedgepool/core/coretest"
	"hedgepool/core/events"
	"hedgepool/native/fees"
	"hedgepool/native/lending"
	"hedgepool/native/reserves"
)

// withReserves adds 1 WETH of provider liquidity to the pool reserves.
func withReserves(t *testing.T, env *coretest.Env) {
	t.Helper()
	provider := coretest.Account(t)
	env.Fund(provider, 1_000_000)
	_, err := env.Liquidity.AddLiquidity(env.Ctx, provider, coretest.Asset, big.NewInt(1_000_000))
	require.NoError(t, err)
}

func yearlyEpochs(o *core.Options) {
	cfg := lending.DefaultConfig()
	cfg.EpochsPerYear = 1
	o.LendingConfig = &cfg
}

func TestLendAndWithdrawWithRewards(t *testing.T) {
	env := coretest.New(t, yearlyEpochs)
	withReserves(t, env)

	cont, err := env.Reserves.Lend(env.Ctx, env.Operator, coretest.Asset)
	require.NoError(t, err)
	require.Equal(t, reserves.KindDeposit, cont.Kind)
	require.Equal(t, int64(500_000), cont.Amount.Int64())
	require.NotEmpty(t, cont.Token)
	require.Equal(t, int64(500_000), env.Pool().CollateralReserves.Int64())
	require.Equal(t, int64(500_000), env.Balance(env.Escrow, coretest.Asset).Int64())

	// until the market answers the loan is pending
	_, err = env.Reserves.Withdraw(env.Ctx, env.Operator, coretest.Asset)
	require.ErrorIs(t, err, reserves.ErrDepositPending)
	_, err = env.Reserves.Lend(env.Ctx, env.Operator, coretest.Asset)
	require.ErrorIs(t, err, reserves.ErrAlreadyLent)

	require.Equal(t, 1, env.Lending.Flush(env.Ctx))
	meta, lent, err := env.Reserves.Loan(env.Ctx, coretest.Asset)
	require.NoError(t, err)
	require.True(t, lent)
	require.True(t, meta.Accepted())
	pending, err := env.Reserves.Pending(env.Ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	_, err = env.Reserves.Withdraw(env.Ctx, env.Operator, coretest.Asset)
	require.ErrorIs(t, err, reserves.ErrTooEarly)

	env.Epoch = 2
	require.NoError(t, env.Market.Fund(coretest.Asset, big.NewInt(500_000)))
	withdraw, err := env.Reserves.Withdraw(env.Ctx, env.Operator, coretest.Asset)
	require.NoError(t, err)
	require.Equal(t, meta.ReceiptNonce, withdraw.ReceiptNonce)
	_, err = env.Reserves.Withdraw(env.Ctx, env.Operator, coretest.Asset)
	require.ErrorIs(t, err, reserves.ErrWithdrawPending)

	require.Equal(t, 1, env.Lending.Flush(env.Ctx))
	_, lent, err = env.Reserves.Loan(env.Ctx, coretest.Asset)
	require.NoError(t, err)
	require.False(t, lent)

	rewards, err := env.Fees.Accumulated(fees.BucketLendRewards, coretest.Asset)
	require.NoError(t, err)
	require.Positive(t, rewards.Sign())
	require.Equal(t, int64(1_000_000), env.Pool().CollateralReserves.Int64())
	require.Zero(t, env.Balance(env.Escrow, coretest.Asset).Sign())
	require.Equal(t, 0, env.Balance(env.Vault, coretest.Asset).Cmp(new(big.Int).Add(big.NewInt(1_000_000), rewards)))
	require.Contains(t, env.Recorder.Types(), events.TypeReservesWithdrawn)

	// providers hold every receipt, so they take the 80% lending share
	split, err := env.Keeper.SplitLendRewards(env.Ctx, env.Operator, coretest.Asset)
	require.NoError(t, err)
	require.Equal(t, 0, new(big.Int).Add(split.ProviderShare, split.ReserveShare).Cmp(rewards))
	require.Equal(t, 0, split.ProviderShare.Cmp(new(big.Int).Div(new(big.Int).Mul(rewards, big.NewInt(8)), big.NewInt(10))))
}

func TestFailedDepositRollsBack(t *testing.T) {
	env := coretest.New(t)
	withReserves(t, env)

	env.Lending.FailNext(1)
	_, err := env.Reserves.Lend(env.Ctx, env.Operator, coretest.Asset)
	require.NoError(t, err)
	require.Equal(t, int64(500_000), env.Pool().CollateralReserves.Int64())

	require.Equal(t, 1, env.Lending.Flush(env.Ctx))
	require.Equal(t, int64(1_000_000), env.Pool().CollateralReserves.Int64())
	require.Zero(t, env.Balance(env.Escrow, coretest.Asset).Sign())
	require.Equal(t, int64(1_000_000), env.Balance(env.Vault, coretest.Asset).Int64())
	_, lent, err := env.Reserves.Loan(env.Ctx, coretest.Asset)
	require.NoError(t, err)
	require.False(t, lent)
	require.Contains(t, env.Recorder.Types(), events.TypeLendRolledBack)

	// the asset can be lent again after the rollback
	_, err = env.Reserves.Lend(env.Ctx, env.Operator, coretest.Asset)
	require.NoError(t, err)
	require.Equal(t, 1, env.Lending.Flush(env.Ctx))
}

func TestFailedWithdrawKeepsLoan(t *testing.T) {
	env := coretest.New(t)
	withReserves(t, env)
	_, err := env.Reserves.Lend(env.Ctx, env.Operator, coretest.Asset)
	require.NoError(t, err)
	env.Lending.Flush(env.Ctx)

	env.Epoch = 2
	_, err = env.Reserves.Withdraw(env.Ctx, env.Operator, coretest.Asset)
	require.NoError(t, err)
	env.Lending.FailNext(1)
	require.Equal(t, 1, env.Lending.Flush(env.Ctx))

	meta, lent, err := env.Reserves.Loan(env.Ctx, coretest.Asset)
	require.NoError(t, err)
	require.True(t, lent)
	require.Equal(t, int64(500_000), meta.Amount.Int64())
	require.Equal(t, int64(500_000), env.Pool().CollateralReserves.Int64())
	require.Contains(t, env.Recorder.Types(), events.TypeWithdrawFailed)
	require.Error(t, env.Reserves.Outstanding(coretest.Asset))

	// a retry goes through once the market has the cash
	require.NoError(t, env.Market.Fund(coretest.Asset, big.NewInt(10_000)))
	_, err = env.Reserves.Withdraw(env.Ctx, env.Operator, coretest.Asset)
	require.NoError(t, err)
	require.Equal(t, 1, env.Lending.Flush(env.Ctx))
	_, lent, err = env.Reserves.Loan(env.Ctx, coretest.Asset)
	require.NoError(t, err)
	require.False(t, lent)
	require.NoError(t, env.Reserves.Outstanding(coretest.Asset))
}

type rejectingClient struct{}

var errOffline = errors.New("market offline")

func (rejectingClient) Deposit(context.Context, reserves.Continuation) error  { return errOffline }
func (rejectingClient) Withdraw(context.Context, reserves.Continuation) error { return errOffline }

func TestRejectedRequestCompensatesImmediately(t *testing.T) {
	env := coretest.New(t, func(o *core.Options) { o.Lending = rejectingClient{} })
	withReserves(t, env)

	_, err := env.Reserves.Lend(env.Ctx, env.Operator, coretest.Asset)
	require.ErrorIs(t, err, reserves.ErrRequestFailed)
	require.ErrorContains(t, err, errOffline.Error())
	require.Equal(t, int64(1_000_000), env.Pool().CollateralReserves.Int64())
	_, lent, err := env.Reserves.Loan(env.Ctx, coretest.Asset)
	require.NoError(t, err)
	require.False(t, lent)
	pending, err := env.Reserves.Pending(env.Ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestCallbacksRejectUnknownContinuations(t *testing.T) {
	env := coretest.New(t)
	stray := reserves.Continuation{Token: "stray", Asset: coretest.Asset, Kind: reserves.KindDeposit, Amount: big.NewInt(1)}

	require.ErrorIs(t, env.Reserves.AcceptDeposit(env.Ctx, stray, 7), reserves.ErrUnknownContinuation)
	require.ErrorIs(t, env.Reserves.OnDepositResult(env.Ctx, stray, nil), reserves.ErrUnknownContinuation)
	stray.Kind = reserves.KindWithdraw
	require.ErrorIs(t, env.Reserves.OnWithdrawResult(env.Ctx, stray, big.NewInt(1), nil), reserves.ErrUnknownContinuation)
	require.Zero(t, env.Pool().CollateralReserves.Sign())

	_, err := env.Reserves.Lend(env.Ctx, env.Operator, coretest.Asset)
	require.ErrorIs(t, err, reserves.ErrNothingToLend)
	_, err = env.Reserves.Withdraw(env.Ctx, env.Operator, coretest.Asset)
	require.ErrorIs(t, err, reserves.ErrNotLent)
}

func TestTimeEpochs(t *testing.T) {
	genesis := time.Unix(1_700_000_000, 0)
	now := genesis.Add(-time.Hour)
	src := reserves.TimeEpochs(genesis, 24*time.Hour, func() time.Time { return now })
	require.Zero(t, src.Epoch())
	now = genesis.Add(47 * time.Hour)
	require.Equal(t, uint64(1), src.Epoch())
	now = genesis.Add(48 * time.Hour)
	require.Equal(t, uint64(2), src.Epoch())
	require.Zero(t, reserves.TimeEpochs(genesis, 0, nil).Epoch())
}
