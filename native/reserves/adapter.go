// Package reserves lends a share of idle pool reserves to an external yield
// source. Each loan spans two atomic units: the request debits reserves and
// records a continuation, the callback either confirms it or compensates.
package reserves

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"hedgepool/core/events"
	"hedgepool/crypto"
	nativecommon "hedgepool/native/common"
	"hedgepool/native/fees"
	"hedgepool/native/fixedpoint"
	"hedgepool/native/pool"
	"hedgepool/native/tokens"
)

// Adapter implements lend/withdraw and their callbacks.
type Adapter struct {
	pools     *pool.Ledger
	fees      *fees.Engine
	tokens    tokens.Ledger
	state     Repository
	client    LendingClient
	epochs    EpochSource
	minEpochs uint64
	tx        nativecommon.Transactor
	pauses    nativecommon.PauseView
	auth      *nativecommon.Authorizer
	emitter   events.Emitter
	logger    *slog.Logger
	vault     crypto.Address
	escrow    crypto.Address
	nowFn     func() time.Time
	newToken  func() string
}

// NewAdapter wires the adapter. Lent collateral moves from vault to escrow
// while it is out on loan.
func NewAdapter(pools *pool.Ledger, feeEngine *fees.Engine, ledger tokens.Ledger, vault, escrow crypto.Address) *Adapter {
	return &Adapter{
		pools:    pools,
		fees:     feeEngine,
		tokens:   ledger,
		vault:    vault,
		escrow:   escrow,
		epochs:   EpochFunc(func() uint64 { return 0 }),
		tx:       nativecommon.Direct{},
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		nowFn:    func() time.Time { return time.Now().UTC() },
		newToken: uuid.NewString,
	}
}

func (a *Adapter) SetState(state Repository) { a.state = state }

// SetClient wires the external lending collaborator.
func (a *Adapter) SetClient(client LendingClient) { a.client = client }

// SetEpochs configures the epoch source and the minimum number of epochs a
// loan must run before it can be withdrawn.
func (a *Adapter) SetEpochs(src EpochSource, minLendEpochs uint64) {
	if src != nil {
		a.epochs = src
	}
	a.minEpochs = minLendEpochs
}

func (a *Adapter) SetTransactor(tx nativecommon.Transactor) {
	if tx != nil {
		a.tx = tx
	}
}

func (a *Adapter) SetPauses(p nativecommon.PauseView) { a.pauses = p }

func (a *Adapter) SetAuthorizer(auth *nativecommon.Authorizer) { a.auth = auth }

func (a *Adapter) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	a.emitter = emitter
}

func (a *Adapter) SetLogger(logger *slog.Logger) {
	if logger != nil {
		a.logger = logger
	}
}

func (a *Adapter) SetNowFunc(now func() time.Time) {
	if now != nil {
		a.nowFn = now
	}
}

func (a *Adapter) ready() error {
	if a == nil || a.pools == nil || a.fees == nil || a.tokens == nil || a.state == nil {
		return errNilState
	}
	return nil
}

// Lend debits lendPercentage of the asset's reserves and asks the client to
// deposit them. The debit commits before the request is sent; a request that
// fails synchronously is compensated immediately.
func (a *Adapter) Lend(ctx context.Context, keeper crypto.Address, asset string) (*Continuation, error) {
	if err := nativecommon.Guard(a.pauses, nativecommon.ModuleLending); err != nil {
		return nil, err
	}
	if err := a.auth.RequireKeeper(keeper); err != nil {
		return nil, err
	}
	if err := a.ready(); err != nil {
		return nil, err
	}
	if a.client == nil {
		return nil, fmt.Errorf("%w: no lending client", ErrRequestFailed)
	}
	ctx = nativecommon.Context(ctx)
	var cont *Continuation
	err := a.tx.Atomic(ctx, func(context.Context) error {
		cfg, err := a.pools.RequireWhitelisted(asset)
		if err != nil {
			return err
		}
		id := cfg.ID
		if _, ok, err := a.state.GetLend(id); err != nil {
			return err
		} else if ok {
			return ErrAlreadyLent
		}
		amount, err := pool.UpdateValue(a.pools, id, func(p *pool.Pool) (*big.Int, error) {
			amount := fixedpoint.PercentageOf(cfg.LendPercentage, p.CollateralReserves)
			if amount.Sign() == 0 {
				return nil, ErrNothingToLend
			}
			remaining := new(big.Int).Sub(p.CollateralReserves, amount)
			if remaining.Cmp(fixedpoint.Clone(cfg.MinReservesAfterLend)) < 0 {
				return nil, fmt.Errorf("%w: %s left, floor %s", ErrReservesFloor, remaining, fixedpoint.Clone(cfg.MinReservesAfterLend))
			}
			p.CollateralReserves = remaining
			return amount, nil
		})
		if err != nil {
			return err
		}
		if err := a.tokens.Transfer(a.vault, a.escrow, id, tokens.FungibleNonce, amount); err != nil {
			return err
		}
		epoch := a.epochs.Epoch()
		if err := a.state.PutLend(id, &LendMetadata{Epoch: epoch, Amount: amount}); err != nil {
			return err
		}
		cont = &Continuation{
			Token:     a.newToken(),
			Asset:     id,
			Kind:      KindDeposit,
			Epoch:     epoch,
			Amount:    amount,
			CreatedAt: a.nowFn().Unix(),
		}
		if err := a.state.PutPending(cont); err != nil {
			return err
		}
		a.emitter.Emit(events.LendingEvent{Type: events.TypeReservesLent, Asset: id, Token: cont.Token, Epoch: epoch, Amount: amount})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := a.client.Deposit(ctx, *cont.Clone()); err != nil {
		a.logger.Warn("lend request rejected", "asset", cont.Asset, "token", cont.Token, "error", err)
		if cbErr := a.OnDepositResult(ctx, *cont.Clone(), err); cbErr != nil {
			return nil, errors.Join(fmt.Errorf("%w: %v", ErrRequestFailed, err), cbErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	return cont.Clone(), nil
}

// Withdraw asks the client to return an accepted loan once it has run for the
// minimum number of epochs.
func (a *Adapter) Withdraw(ctx context.Context, keeper crypto.Address, asset string) (*Continuation, error) {
	if err := nativecommon.Guard(a.pauses, nativecommon.ModuleLending); err != nil {
		return nil, err
	}
	if err := a.auth.RequireKeeper(keeper); err != nil {
		return nil, err
	}
	if err := a.ready(); err != nil {
		return nil, err
	}
	if a.client == nil {
		return nil, fmt.Errorf("%w: no lending client", ErrRequestFailed)
	}
	ctx = nativecommon.Context(ctx)
	var cont *Continuation
	err := a.tx.Atomic(ctx, func(context.Context) error {
		cfg, err := a.pools.RequireWhitelisted(asset)
		if err != nil {
			return err
		}
		id := cfg.ID
		meta, ok, err := a.state.GetLend(id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotLent
		}
		if !meta.Accepted() {
			return ErrDepositPending
		}
		epoch := a.epochs.Epoch()
		if epoch < meta.Epoch || epoch-meta.Epoch < a.minEpochs {
			return fmt.Errorf("%w: lent at %d, now %d, minimum %d", ErrTooEarly, meta.Epoch, epoch, a.minEpochs)
		}
		pending, err := a.pendingFor(id)
		if err != nil {
			return err
		}
		for _, p := range pending {
			if p.Kind == KindWithdraw {
				return ErrWithdrawPending
			}
		}
		cont = &Continuation{
			Token:        a.newToken(),
			Asset:        id,
			Kind:         KindWithdraw,
			Epoch:        meta.Epoch,
			Amount:       fixedpoint.Clone(meta.Amount),
			ReceiptNonce: meta.ReceiptNonce,
			CreatedAt:    a.nowFn().Unix(),
		}
		return a.state.PutPending(cont)
	})
	if err != nil {
		return nil, err
	}
	if err := a.client.Withdraw(ctx, *cont.Clone()); err != nil {
		a.logger.Warn("withdraw request rejected", "asset", cont.Asset, "token", cont.Token, "error", err)
		if cbErr := a.OnWithdrawResult(ctx, *cont.Clone(), nil, err); cbErr != nil {
			return nil, errors.Join(fmt.Errorf("%w: %v", ErrRequestFailed, err), cbErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	return cont.Clone(), nil
}

// pending loads the stored continuation matching cont.
func (a *Adapter) pending(cont Continuation, kind Kind) (*Continuation, error) {
	stored, ok, err := a.state.GetPending(cont.Token)
	if err != nil {
		return nil, err
	}
	if !ok || stored.Kind != kind || stored.Asset != pool.NormalizeAsset(cont.Asset) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContinuation, cont.Token)
	}
	return stored, nil
}

func (a *Adapter) pendingFor(asset string) ([]*Continuation, error) {
	all, err := a.state.ListPending()
	if err != nil {
		return nil, err
	}
	var out []*Continuation
	for _, c := range all {
		if c.Asset == asset {
			out = append(out, c)
		}
	}
	return out, nil
}

// AcceptDeposit records the receipt the external market issued for a loan.
// The nonce can be set once.
func (a *Adapter) AcceptDeposit(ctx context.Context, cont Continuation, receiptNonce uint64) error {
	if err := a.ready(); err != nil {
		return err
	}
	if receiptNonce == 0 {
		return fmt.Errorf("%w: zero receipt nonce", ErrUnknownContinuation)
	}
	return a.tx.Atomic(nativecommon.Context(ctx), func(context.Context) error {
		stored, err := a.pending(cont, KindDeposit)
		if err != nil {
			return err
		}
		meta, ok, err := a.state.GetLend(stored.Asset)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotLent
		}
		if meta.Accepted() {
			return ErrReceiptAlreadySet
		}
		meta.ReceiptNonce = receiptNonce
		stored.ReceiptNonce = receiptNonce
		if err := a.state.PutLend(stored.Asset, meta); err != nil {
			return err
		}
		return a.state.PutPending(stored)
	})
}

// OnDepositResult completes the lend leg. A failure, or a success that was
// never accepted, clears the loan and restores the debited reserves. The
// continuation is removed in every case.
func (a *Adapter) OnDepositResult(ctx context.Context, cont Continuation, cause error) error {
	if err := a.ready(); err != nil {
		return err
	}
	ctx = nativecommon.Context(ctx)
	err := a.tx.Atomic(ctx, func(context.Context) error {
		stored, err := a.pending(cont, KindDeposit)
		if err != nil {
			return err
		}
		meta, ok, err := a.state.GetLend(stored.Asset)
		if err != nil {
			return err
		}
		if cause == nil && ok && meta.Accepted() {
			return a.state.DeletePending(stored.Token)
		}
		if cause == nil {
			cause = ErrDepositPending
		}
		if ok {
			if err := a.state.DeleteLend(stored.Asset); err != nil {
				return err
			}
		}
		if err := a.pools.Update(stored.Asset, func(p *pool.Pool) error {
			p.CollateralReserves.Add(p.CollateralReserves, stored.Amount)
			return nil
		}); err != nil {
			return err
		}
		if err := a.tokens.Transfer(a.escrow, a.vault, stored.Asset, tokens.FungibleNonce, stored.Amount); err != nil {
			return err
		}
		a.emitter.Emit(events.LendingEvent{
			Type:   events.TypeLendRolledBack,
			Asset:  stored.Asset,
			Token:  stored.Token,
			Epoch:  stored.Epoch,
			Amount: stored.Amount,
			Reason: cause.Error(),
		})
		a.logger.Warn("lend rolled back", "asset", stored.Asset, "token", stored.Token, "amount", stored.Amount.String(), "reason", cause.Error())
		return a.state.DeletePending(stored.Token)
	})
	if err != nil {
		a.discard(ctx, cont.Token)
	}
	return err
}

// OnWithdrawResult completes the withdraw leg. On success the principal
// returns to reserves, any surplus accrues as lend rewards and the loan is
// cleared. On failure the loan stays outstanding for a retry.
func (a *Adapter) OnWithdrawResult(ctx context.Context, cont Continuation, returned *big.Int, cause error) error {
	if err := a.ready(); err != nil {
		return err
	}
	if cause == nil && (returned == nil || returned.Sign() < 0) {
		cause = ErrInvalidReturnedValue
	}
	ctx = nativecommon.Context(ctx)
	err := a.tx.Atomic(ctx, func(context.Context) error {
		stored, err := a.pending(cont, KindWithdraw)
		if err != nil {
			return err
		}
		if cause != nil {
			a.emitter.Emit(events.LendingEvent{
				Type:         events.TypeWithdrawFailed,
				Asset:        stored.Asset,
				Token:        stored.Token,
				Epoch:        stored.Epoch,
				Amount:       stored.Amount,
				ReceiptNonce: stored.ReceiptNonce,
				Reason:       cause.Error(),
			})
			a.logger.Warn("withdraw failed, loan kept", "asset", stored.Asset, "token", stored.Token, "reason", cause.Error())
			return a.state.DeletePending(stored.Token)
		}
		meta, ok, err := a.state.GetLend(stored.Asset)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotLent
		}
		principal := fixedpoint.Min(returned, meta.Amount)
		rewards := fixedpoint.SaturatingSub(returned, meta.Amount)
		loss := fixedpoint.SaturatingSub(meta.Amount, returned)
		if err := a.pools.Update(stored.Asset, func(p *pool.Pool) error {
			p.CollateralReserves.Add(p.CollateralReserves, principal)
			return nil
		}); err != nil {
			return err
		}
		if principal.Sign() > 0 {
			if err := a.tokens.Transfer(a.escrow, a.vault, stored.Asset, tokens.FungibleNonce, principal); err != nil {
				return err
			}
		}
		if loss.Sign() > 0 {
			if err := a.tokens.Burn(a.escrow, stored.Asset, tokens.FungibleNonce, loss); err != nil {
				return err
			}
			a.logger.Warn("loan returned less than lent", "asset", stored.Asset, "lent", meta.Amount.String(), "returned", returned.String())
		}
		if rewards.Sign() > 0 {
			if err := a.tokens.Mint(a.vault, stored.Asset, rewards); err != nil {
				return err
			}
			if err := a.fees.AccrueLendRewards(stored.Asset, rewards); err != nil {
				return err
			}
		}
		if err := a.state.DeleteLend(stored.Asset); err != nil {
			return err
		}
		a.emitter.Emit(events.LendingEvent{
			Type:         events.TypeReservesWithdrawn,
			Asset:        stored.Asset,
			Token:        stored.Token,
			Epoch:        meta.Epoch,
			Amount:       principal,
			Rewards:      rewards,
			ReceiptNonce: meta.ReceiptNonce,
		})
		return a.state.DeletePending(stored.Token)
	})
	if err != nil {
		a.discard(ctx, cont.Token)
	}
	return err
}

// discard drops a continuation whose callback could not be applied.
func (a *Adapter) discard(ctx context.Context, token string) {
	err := a.tx.Atomic(ctx, func(context.Context) error {
		if _, ok, err := a.state.GetPending(token); err != nil || !ok {
			return err
		}
		return a.state.DeletePending(token)
	})
	if err != nil {
		a.logger.Error("failed to clear continuation", "token", token, "error", err)
	}
}

// Loan returns the outstanding loan of asset, if any.
func (a *Adapter) Loan(ctx context.Context, asset string) (*LendMetadata, bool, error) {
	if err := a.ready(); err != nil {
		return nil, false, err
	}
	var (
		out   *LendMetadata
		found bool
	)
	err := a.tx.View(nativecommon.Context(ctx), func(context.Context) error {
		meta, ok, err := a.state.GetLend(pool.NormalizeAsset(asset))
		if err != nil {
			return err
		}
		out, found = meta.Clone(), ok
		return nil
	})
	return out, found, err
}

// Pending lists in-flight continuations.
func (a *Adapter) Pending(ctx context.Context) ([]*Continuation, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	var out []*Continuation
	err := a.tx.View(nativecommon.Context(ctx), func(context.Context) error {
		list, err := a.state.ListPending()
		if err != nil {
			return err
		}
		for _, c := range list {
			out = append(out, c.Clone())
		}
		return nil
	})
	return out, err
}

// Outstanding reports an error while asset has a loan or a request in
// flight. The pool ledger consults it before removing an asset.
func (a *Adapter) Outstanding(asset string) error {
	if err := a.ready(); err != nil {
		return err
	}
	id := pool.NormalizeAsset(asset)
	if _, ok, err := a.state.GetLend(id); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("reserves of %s on loan", id)
	}
	pending, err := a.pendingFor(id)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return fmt.Errorf("%d lending requests in flight for %s", len(pending), id)
	}
	return nil
}
