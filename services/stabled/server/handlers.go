package server

import (
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"hedgepool/config"
	"hedgepool/crypto"
	nativecommon "hedgepool/native/common"
	"hedgepool/native/fees"
	"hedgepool/native/fixedpoint"
	"hedgepool/native/hedging"
	"hedgepool/native/liquidity"
	"hedgepool/native/pool"
	"hedgepool/native/reserves"
	"hedgepool/native/swap"
	"hedgepool/observability"
)

type poolResponse struct {
	Asset                         string        `json:"asset"`
	Ticker                        string        `json:"ticker"`
	Decimals                      uint32        `json:"decimals"`
	CollateralAmount              string        `json:"collateral_amount"`
	StablecoinAmount              string        `json:"stablecoin_amount"`
	CollateralReserves            string        `json:"collateral_reserves"`
	TotalCollateralCovered        string        `json:"total_collateral_covered"`
	TotalCoveredValueInStablecoin string        `json:"total_covered_value_in_stablecoin"`
	Fees                          *feesResponse `json:"fees,omitempty"`
}

type feesResponse struct {
	HedgingRatio string `json:"hedging_ratio"`
	MintFee      string `json:"mint_fee"`
	BurnFee      string `json:"burn_fee"`
	Slippage     string `json:"slippage"`
}

func feesView(c *fees.Configuration) *feesResponse {
	if c == nil {
		return nil
	}
	return &feesResponse{
		HedgingRatio: fixedpoint.FormatPercent(c.HedgingRatio),
		MintFee:      fixedpoint.FormatPercent(c.MintFee),
		BurnFee:      fixedpoint.FormatPercent(c.BurnFee),
		Slippage:     fixedpoint.FormatPercent(c.Slippage),
	}
}

type positionResponse struct {
	Nonce                   uint64 `json:"nonce"`
	Asset                   string `json:"asset"`
	Holder                  string `json:"holder,omitempty"`
	Deposit                 string `json:"deposit"`
	Covered                 string `json:"covered"`
	OracleValueAtDeposit    string `json:"oracle_value_at_deposit"`
	CreatedAt               int64  `json:"created_at"`
	ForceClosed             bool   `json:"force_closed"`
	WithdrawAfterForceClose string `json:"withdraw_after_force_close,omitempty"`
	OracleValue             string `json:"oracle_value,omitempty"`
	MarginRatio             string `json:"margin_ratio,omitempty"`
	Leverage                string `json:"leverage,omitempty"`
	Liquidable              bool   `json:"liquidable,omitempty"`
}

func positionView(p *hedging.Position) positionResponse {
	out := positionResponse{
		Nonce:                p.Nonce,
		Asset:                p.Asset,
		Deposit:              units(p.Deposit),
		Covered:              units(p.Covered),
		OracleValueAtDeposit: units(p.OracleValueAtDeposit),
		CreatedAt:            p.CreatedAt,
		ForceClosed:          p.IsClosed(),
	}
	if p.IsClosed() {
		out.WithdrawAfterForceClose = units(p.WithdrawAfterForceClose)
	}
	return out
}

type swapResponse struct {
	Asset       string `json:"asset"`
	Direction   string `json:"direction"`
	AmountIn    string `json:"amount_in"`
	AmountOut   string `json:"amount_out"`
	Fee         string `json:"fee"`
	OracleValue string `json:"oracle_value"`
}

func swapView(r *swap.Result) swapResponse {
	return swapResponse{
		Asset:       r.Asset,
		Direction:   r.Direction,
		AmountIn:    units(r.AmountIn),
		AmountOut:   units(r.AmountOut),
		Fee:         units(r.Fee),
		OracleValue: units(r.OracleValue),
	}
}

type liquidityResponse struct {
	Collateral string `json:"collateral"`
	Receipts   string `json:"receipts"`
	Slippage   string `json:"slippage"`
}

func liquidityView(q *liquidity.Quote) liquidityResponse {
	return liquidityResponse{Collateral: units(q.Collateral), Receipts: units(q.Receipts), Slippage: units(q.Slippage)}
}

type continuationResponse struct {
	Token        string `json:"token"`
	Asset        string `json:"asset"`
	Kind         string `json:"kind"`
	Epoch        uint64 `json:"epoch"`
	Amount       string `json:"amount,omitempty"`
	ReceiptNonce uint64 `json:"receipt_nonce,omitempty"`
}

func continuationView(c *reserves.Continuation) continuationResponse {
	out := continuationResponse{
		Token:        c.Token,
		Asset:        c.Asset,
		Kind:         string(c.Kind),
		Epoch:        c.Epoch,
		ReceiptNonce: c.ReceiptNonce,
	}
	if c.Amount != nil {
		out.Amount = c.Amount.String()
	}
	return out
}

// RecordPool publishes the pool gauges for one asset.
func RecordPool(cfg *pool.AssetConfig, p *pool.Pool) {
	ratio, _ := new(big.Float).Quo(
		new(big.Float).SetInt(fees.HedgingRatio(p, cfg)),
		new(big.Float).SetInt64(fixedpoint.Precision),
	).Float64()
	observability.Protocol().RecordPool(cfg.ID, p.CollateralReserves, p.CollateralAmount, p.TotalCollateralCovered, ratio)
}

// run executes a protocol operation and records its outcome.
func (s *Server) run(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	observability.Protocol().Observe(operation, time.Since(start), err)
	return err
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.protocol.Keeper.Assets(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": assets, "stable_token": s.protocol.Swap.StableToken()})
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	p, cfg, err := s.protocol.Pools.Pool(r.Context(), assetParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := poolResponse{
		Asset:                         cfg.ID,
		Ticker:                        cfg.Ticker,
		Decimals:                      cfg.Decimals,
		CollateralAmount:              units(p.CollateralAmount),
		StablecoinAmount:              units(p.StablecoinAmount),
		CollateralReserves:            units(p.CollateralReserves),
		TotalCollateralCovered:        units(p.TotalCollateralCovered),
		TotalCoveredValueInStablecoin: units(p.TotalCoveredValueInStablecoin),
	}
	if snapshot, err := s.protocol.Fees.Current(cfg.ID); err == nil {
		out.Fees = feesView(snapshot)
	}
	RecordPool(cfg, p)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.protocol.Fees.Snapshot(r.Context(), assetParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feesView(snapshot))
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	value, err := amount("amount", r.URL.Query().Get("amount"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	quote, err := s.protocol.Swap.Quote(r.Context(), assetParam(r), r.URL.Query().Get("direction"), value)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, swapView(quote))
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.protocol.Hedging.Positions(r.Context(), assetParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

func (s *Server) handleProviderPosition(w http.ResponseWriter, r *http.Request) {
	holder, err := crypto.DecodeAddress(chi.URLParam(r, "account"))
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: account: %v", errBadRequest, err))
		return
	}
	position, err := s.protocol.Liquidity.ProviderPosition(r.Context(), holder, assetParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"receipts": units(position.Receipts), "value": units(position.Value)})
}

func (s *Server) handleLoan(w http.ResponseWriter, r *http.Request) {
	meta, lent, err := s.protocol.Reserves.Loan(r.Context(), assetParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := map[string]any{"lent": lent}
	if lent {
		out["epoch"] = meta.Epoch
		out["amount"] = units(meta.Amount)
		out["accepted"] = meta.Accepted()
		out["receipt_nonce"] = meta.ReceiptNonce
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.protocol.Reserves.Pending(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]continuationResponse, 0, len(pending))
	for _, c := range pending {
		out = append(out, continuationView(c))
	}
	observability.Protocol().SetPending(len(pending))
	writeJSON(w, http.StatusOK, map[string]any{"pending": out})
}

type swapRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	MinOut string `json:"min_out,omitempty"`
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	s.handleSwap(w, r, swap.DirectionSell)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.handleSwap(w, r, swap.DirectionBuy)
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request, direction string) {
	from, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req swapRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	in, err := amount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	minOut, err := amount("min_out", req.MinOut)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var result *swap.Result
	err = s.run("swap_"+direction, func() error {
		var err error
		if direction == swap.DirectionSell {
			result, err = s.protocol.Swap.SellCollateral(r.Context(), from, req.Asset, in, minOut)
		} else {
			result, err = s.protocol.Swap.BuyCollateral(r.Context(), from, req.Asset, in, minOut)
		}
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, swapView(result))
}

type liquidityRequest struct {
	Asset    string `json:"asset"`
	Amount   string `json:"amount,omitempty"`
	Receipts string `json:"receipts,omitempty"`
	MinOut   string `json:"min_out,omitempty"`
}

func (s *Server) handleAddLiquidity(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req liquidityRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	in, err := amount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var quote *liquidity.Quote
	err = s.run("add_liquidity", func() error {
		var err error
		quote, err = s.protocol.Liquidity.AddLiquidity(r.Context(), from, req.Asset, in)
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, liquidityView(quote))
}

func (s *Server) handleRemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req liquidityRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	receipts, err := amount("receipts", req.Receipts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	minOut, err := amount("min_out", req.MinOut)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var quote *liquidity.Quote
	err = s.run("remove_liquidity", func() error {
		var err error
		quote, err = s.protocol.Liquidity.RemoveLiquidity(r.Context(), from, req.Asset, receipts, minOut)
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, liquidityView(quote))
}

type openRequest struct {
	Asset          string `json:"asset"`
	Payment        string `json:"payment"`
	AmountToCover  string `json:"amount_to_cover"`
	MaxOracleValue string `json:"max_oracle_value,omitempty"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req openRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	values := make([]*big.Int, 3)
	for i, f := range []struct{ name, raw string }{
		{"payment", req.Payment}, {"amount_to_cover", req.AmountToCover}, {"max_oracle_value", req.MaxOracleValue},
	} {
		if values[i], err = amount(f.name, f.raw); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	var position *hedging.Position
	err = s.run("open_position", func() error {
		var err error
		position, err = s.protocol.Hedging.OpenHedgingPosition(r.Context(), from, req.Asset, values[0], values[1], values[2])
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := positionView(position)
	out.Holder = from.String()
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	nonce, err := nonceParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	health, err := s.protocol.Hedging.Inspect(r.Context(), nonce)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := positionView(health.Position)
	out.Holder = health.Holder.String()
	out.OracleValue = units(health.OracleValue)
	out.MarginRatio = units(health.MarginRatio)
	out.Leverage = units(health.Leverage)
	out.Liquidable = health.Liquidable
	writeJSON(w, http.StatusOK, out)
}

type marginRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleAddMargin(w http.ResponseWriter, r *http.Request) {
	s.handleMargin(w, r, true)
}

func (s *Server) handleRemoveMargin(w http.ResponseWriter, r *http.Request) {
	s.handleMargin(w, r, false)
}

func (s *Server) handleMargin(w http.ResponseWriter, r *http.Request, add bool) {
	from, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	nonce, err := nonceParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req marginRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	value, err := amount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var position *hedging.Position
	operation := "remove_margin"
	if add {
		operation = "add_margin"
	}
	err = s.run(operation, func() error {
		var err error
		if add {
			position, err = s.protocol.Hedging.AddMargin(r.Context(), from, nonce, value)
		} else {
			position, err = s.protocol.Hedging.RemoveMargin(r.Context(), from, nonce, value)
		}
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, positionView(position))
}

type closeRequest struct {
	MinOracleValue string `json:"min_oracle_value,omitempty"`
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	nonce, err := nonceParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req closeRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	minOracle, err := amount("min_oracle_value", req.MinOracleValue)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var result *hedging.CloseResult
	err = s.run("close_position", func() error {
		var err error
		result, err = s.protocol.Hedging.CloseHedgingPosition(r.Context(), from, nonce, minOracle)
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nonce":            result.Nonce,
		"collateral":       units(result.Collateral),
		"liquidity_units":  units(result.LiquidityUnits),
		"fee":              units(result.Fee),
		"was_force_closed": result.WasForceClosed,
	})
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	err = s.run("rebalance", func() error {
		rebalance, err := s.protocol.Keeper.RebalancePool(r.Context(), from, assetParam(r))
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"asset":              rebalance.Asset,
			"old_stablecoin":     units(rebalance.OldStablecoin),
			"new_stablecoin":     units(rebalance.NewStablecoin),
			"reserves_delta":     units(rebalance.ReservesDelta),
			"reserves_increased": rebalance.ReservesIncreased,
		})
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
	}
}

func (s *Server) handleUpdateFees(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var snapshot *fees.Configuration
	err = s.run("update_fees", func() error {
		var err error
		snapshot, err = s.protocol.Keeper.UpdateFeesPercentage(r.Context(), from, assetParam(r))
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feesView(snapshot))
}

func (s *Server) handleSplitFees(w http.ResponseWriter, r *http.Request) {
	s.handleSplit(w, r, fees.BucketFees)
}

func (s *Server) handleSplitRewards(w http.ResponseWriter, r *http.Request) {
	s.handleSplit(w, r, fees.BucketLendRewards)
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request, bucket string) {
	from, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	asset := assetParam(r)
	err = s.run("split_"+bucket, func() error {
		split := s.protocol.Keeper.SplitFees
		if bucket == fees.BucketLendRewards {
			split = s.protocol.Keeper.SplitLendRewards
		}
		result, err := split(r.Context(), from, asset)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"asset":          result.Asset,
			"provider_share": units(result.ProviderShare),
			"reserve_share":  units(result.ReserveShare),
		})
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
	}
}

func (s *Server) handleLend(w http.ResponseWriter, r *http.Request) {
	s.handleLoanRequest(w, r, true)
}

func (s *Server) handleWithdrawLoan(w http.ResponseWriter, r *http.Request) {
	s.handleLoanRequest(w, r, false)
}

func (s *Server) handleLoanRequest(w http.ResponseWriter, r *http.Request, lend bool) {
	from, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	asset := assetParam(r)
	operation := "withdraw_reserves"
	if lend {
		operation = "lend_reserves"
	}
	var cont *reserves.Continuation
	err = s.run(operation, func() error {
		var err error
		if lend {
			cont, err = s.protocol.Keeper.LendReserves(r.Context(), from, asset)
		} else {
			cont, err = s.protocol.Keeper.WithdrawLendedReserves(r.Context(), from, asset)
		}
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, continuationView(cont))
}

func (s *Server) handleForceClose(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	nonce, err := nonceParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var settlement *hedging.Settlement
	err = s.run("force_close", func() error {
		var err error
		settlement, err = s.protocol.Keeper.ForceCloseHedgingPosition(r.Context(), from, nonce)
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"base":     units(settlement.Base),
		"fee":      units(settlement.Fee),
		"withdraw": units(settlement.Withdraw),
	})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	nonce, err := nonceParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	err = s.run("liquidate", func() error {
		return s.protocol.Keeper.LiquidateHedgingPosition(r.Context(), from, nonce)
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nonce": nonce, "liquidated": true})
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req config.Asset
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	params, err := req.Parameters()
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	err = s.run("whitelist", func() error {
		return s.protocol.Pools.AddCollateralToWhitelist(r.Context(), from, params)
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"asset": params.ID})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	asset := assetParam(r)
	err = s.run("remove_collateral", func() error {
		return s.protocol.Pools.RemoveCollateralFromWhitelist(r.Context(), from, asset)
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": pool.NormalizeAsset(asset)})
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.protocol.Auth.RequireOwner(from); err != nil {
		s.fail(w, r, err)
		return
	}
	var req pauseRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	module := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "module")))
	switch module {
	case nativecommon.ModuleHedging, nativecommon.ModuleLiquidity, nativecommon.ModuleSwap,
		nativecommon.ModuleLending, nativecommon.ModuleKeeper:
	default:
		s.fail(w, r, fmt.Errorf("%w: unknown module %q", errBadRequest, module))
		return
	}
	s.protocol.Pauses.Set(module, req.Paused)
	if module == nativecommon.ModuleKeeper {
		observability.Keeper().SetPause(req.Paused)
	}
	s.logger.Info("module pause updated", "module", module, "paused", req.Paused)
	writeJSON(w, http.StatusOK, map[string]any{"module": module, "paused": req.Paused})
}

type priceRequest struct {
	Rate string `json:"rate"`
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		writeError(w, http.StatusNotFound, "manual prices not enabled")
		return
	}
	from, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.protocol.Auth.RequireOwner(from); err != nil {
		s.fail(w, r, err)
		return
	}
	var req priceRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	base, quote := chi.URLParam(r, "base"), chi.URLParam(r, "quote")
	if err := s.prices.SetDecimal(base, quote, req.Rate, s.cfg.StableDecimals, time.Now()); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pair": strings.ToUpper(base + "/" + quote), "rate": req.Rate})
}
