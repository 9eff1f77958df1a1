package stable

import (
	"fmt"
	"math/big"

	"hedgepool/crypto"
	"hedgepool/native/fees"
	"hedgepool/native/hedging"
	"hedgepool/native/liquidity"
	"hedgepool/native/pool"
	"hedgepool/native/reserves"
	"hedgepool/native/tokens"
)

var (
	poolPrefix        = []byte("pool/")
	assetPrefix       = []byte("asset/")
	feeConfigPrefix   = []byte("feecfg/")
	accumulatorPrefix = []byte("acc/")
	receiptPoolPrefix = []byte("rp/")
	positionPrefix    = []byte("position/")
	lendPrefix        = []byte("lend/")
	pendingPrefix     = []byte("pending/")
	balancePrefix     = []byte("tok/bal/")
	supplyPrefix      = []byte("tok/supply/")
	tokenNoncePrefix  = []byte("tok/nonce/")
	tokenReceiptKey   = []byte("tok/receipt/")
	swapUsagePrefix   = []byte("swap/usage/")
	swapVelocityKey   = []byte("swap/velocity/")
)

func key(prefix []byte, parts ...[]byte) []byte {
	out := append([]byte{}, prefix...)
	for i, p := range parts {
		if i > 0 {
			out = append(out, '/')
		}
		out = append(out, p...)
	}
	return out
}

func assetKey(prefix []byte, asset string) []byte {
	return key(prefix, []byte(pool.NormalizeAsset(asset)))
}

// --- pools ---

func (s *Store) GetPool(asset string) (*pool.Pool, bool, error) {
	var rec poolRecord
	ok, err := getRLP(s, assetKey(poolPrefix, asset), &rec)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &pool.Pool{
		CollateralAmount:              decodeAmount(rec.CollateralAmount),
		StablecoinAmount:              decodeAmount(rec.StablecoinAmount),
		CollateralReserves:            decodeAmount(rec.CollateralReserves),
		TotalCollateralCovered:        decodeAmount(rec.TotalCollateralCovered),
		TotalCoveredValueInStablecoin: decodeAmount(rec.TotalCoveredValue),
	}, true, nil
}

func (s *Store) PutPool(asset string, p *pool.Pool) error {
	p = p.Clone()
	v, err := encodeAmounts(p.CollateralAmount, p.StablecoinAmount, p.CollateralReserves, p.TotalCollateralCovered, p.TotalCoveredValueInStablecoin)
	if err != nil {
		return err
	}
	return putRLP(s, assetKey(poolPrefix, asset), &poolRecord{v[0], v[1], v[2], v[3], v[4]})
}

func (s *Store) DeletePool(asset string) error {
	return s.del(assetKey(poolPrefix, asset))
}

// --- assets ---

func (s *Store) GetAsset(asset string) (*pool.AssetConfig, bool, error) {
	var rec assetRecord
	ok, err := getRLP(s, assetKey(assetPrefix, asset), &rec)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &pool.AssetConfig{
		ID:                   rec.ID,
		Ticker:               rec.Ticker,
		Decimals:             rec.Decimals,
		MinFee:               decodeAmount(rec.MinFee),
		MaxFee:               decodeAmount(rec.MaxFee),
		TargetHedgingRatio:   decodeAmount(rec.TargetHedgingRatio),
		LimitHedgingRatio:    decodeAmount(rec.LimitHedgingRatio),
		MinSlippage:          decodeAmount(rec.MinSlippage),
		MaxSlippage:          decodeAmount(rec.MaxSlippage),
		MaxLeverage:          decodeAmount(rec.MaxLeverage),
		MaintenanceRatio:     decodeAmount(rec.MaintenanceRatio),
		LendPercentage:       decodeAmount(rec.LendPercentage),
		MinReservesAfterLend: decodeAmount(rec.MinReservesAfterLend),
		ProviderFeeShare:     decodeAmount(rec.ProviderFeeShare),
		ProviderLendShare:    decodeAmount(rec.ProviderLendShare),
	}, true, nil
}

func (s *Store) PutAsset(cfg *pool.AssetConfig) error {
	if cfg == nil {
		return fmt.Errorf("stable: nil asset config")
	}
	v, err := encodeAmounts(
		cfg.MinFee, cfg.MaxFee,
		cfg.TargetHedgingRatio, cfg.LimitHedgingRatio,
		cfg.MinSlippage, cfg.MaxSlippage,
		cfg.MaxLeverage, cfg.MaintenanceRatio,
		cfg.LendPercentage, cfg.MinReservesAfterLend,
		cfg.ProviderFeeShare, cfg.ProviderLendShare,
	)
	if err != nil {
		return err
	}
	id := pool.NormalizeAsset(cfg.ID)
	return putRLP(s, assetKey(assetPrefix, id), &assetRecord{
		ID: id, Ticker: cfg.Ticker, Decimals: cfg.Decimals,
		MinFee: v[0], MaxFee: v[1],
		TargetHedgingRatio: v[2], LimitHedgingRatio: v[3],
		MinSlippage: v[4], MaxSlippage: v[5],
		MaxLeverage: v[6], MaintenanceRatio: v[7],
		LendPercentage: v[8], MinReservesAfterLend: v[9],
		ProviderFeeShare: v[10], ProviderLendShare: v[11],
	})
}

func (s *Store) DeleteAsset(asset string) error {
	return s.del(assetKey(assetPrefix, asset))
}

func (s *Store) ListAssets() ([]string, error) {
	var out []string
	err := s.iterate(assetPrefix, func(k, _ []byte) error {
		out = append(out, string(k[len(assetPrefix):]))
		return nil
	})
	return out, err
}

// --- fees ---

func (s *Store) GetFeeConfig(asset string) (*fees.Configuration, bool, error) {
	var rec feeRecord
	ok, err := getRLP(s, assetKey(feeConfigPrefix, asset), &rec)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &fees.Configuration{
		HedgingRatio: decodeAmount(rec.HedgingRatio),
		MintFee:      decodeAmount(rec.MintFee),
		BurnFee:      decodeAmount(rec.BurnFee),
		Slippage:     decodeAmount(rec.Slippage),
	}, true, nil
}

func (s *Store) PutFeeConfig(asset string, cfg *fees.Configuration) error {
	cfg = cfg.Clone()
	if cfg == nil {
		return fmt.Errorf("stable: nil fee config")
	}
	v, err := encodeAmounts(cfg.HedgingRatio, cfg.MintFee, cfg.BurnFee, cfg.Slippage)
	if err != nil {
		return err
	}
	return putRLP(s, assetKey(feeConfigPrefix, asset), &feeRecord{v[0], v[1], v[2], v[3]})
}

func (s *Store) DeleteFeeConfig(asset string) error {
	return s.del(assetKey(feeConfigPrefix, asset))
}

func accumulatorKey(bucket, asset string) []byte {
	return key(accumulatorPrefix, []byte(bucket), []byte(pool.NormalizeAsset(asset)))
}

func (s *Store) GetAccumulated(bucket, asset string) (*big.Int, error) {
	data, _, err := s.get(accumulatorKey(bucket, asset))
	if err != nil {
		return nil, err
	}
	return decodeAmount(data), nil
}

func (s *Store) PutAccumulated(bucket, asset string, amount *big.Int) error {
	k := accumulatorKey(bucket, asset)
	if amount == nil || amount.Sign() == 0 {
		return s.del(k)
	}
	b, err := encodeAmount(amount)
	if err != nil {
		return err
	}
	return s.put(k, b)
}

// --- liquidity receipts ---

func (s *Store) GetReceiptPool(asset string) (*liquidity.ReceiptPool, bool, error) {
	var rec receiptPoolRecord
	ok, err := getRLP(s, assetKey(receiptPoolPrefix, asset), &rec)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &liquidity.ReceiptPool{Backing: decodeAmount(rec.Backing), Outstanding: decodeAmount(rec.Outstanding)}, true, nil
}

func (s *Store) PutReceiptPool(asset string, rp *liquidity.ReceiptPool) error {
	rp = rp.Clone()
	if rp.Backing.Sign() == 0 && rp.Outstanding.Sign() == 0 {
		return s.del(assetKey(receiptPoolPrefix, asset))
	}
	v, err := encodeAmounts(rp.Backing, rp.Outstanding)
	if err != nil {
		return err
	}
	return putRLP(s, assetKey(receiptPoolPrefix, asset), &receiptPoolRecord{v[0], v[1]})
}

// --- hedging positions ---

func positionKey(nonce uint64) []byte { return key(positionPrefix, uint64Bytes(nonce)) }

func positionFromRecord(rec *positionRecord) *hedging.Position {
	p := &hedging.Position{
		Nonce:                rec.Nonce,
		Asset:                rec.Asset,
		Deposit:              decodeAmount(rec.Deposit),
		Covered:              decodeAmount(rec.Covered),
		OracleValueAtDeposit: decodeAmount(rec.OracleValue),
		CreatedAt:            int64(rec.CreatedAt),
	}
	if rec.ForceClosed {
		p.WithdrawAfterForceClose = decodeAmount(rec.Withdraw)
	}
	return p
}

func (s *Store) GetPosition(nonce uint64) (*hedging.Position, bool, error) {
	var rec positionRecord
	ok, err := getRLP(s, positionKey(nonce), &rec)
	if err != nil || !ok {
		return nil, ok, err
	}
	return positionFromRecord(&rec), true, nil
}

func (s *Store) PutPosition(p *hedging.Position) error {
	if p == nil {
		return fmt.Errorf("stable: nil position")
	}
	if p.CreatedAt < 0 {
		return fmt.Errorf("stable: negative position timestamp")
	}
	v, err := encodeAmounts(p.Deposit, p.Covered, p.OracleValueAtDeposit, p.WithdrawAfterForceClose)
	if err != nil {
		return err
	}
	return putRLP(s, positionKey(p.Nonce), &positionRecord{
		Nonce:       p.Nonce,
		Asset:       pool.NormalizeAsset(p.Asset),
		Deposit:     v[0],
		Covered:     v[1],
		OracleValue: v[2],
		CreatedAt:   uint64(p.CreatedAt),
		ForceClosed: p.IsClosed(),
		Withdraw:    v[3],
	})
}

func (s *Store) DeletePosition(nonce uint64) error {
	return s.del(positionKey(nonce))
}

func (s *Store) ListPositions(asset string) ([]*hedging.Position, error) {
	id := pool.NormalizeAsset(asset)
	var out []*hedging.Position
	err := s.iterate(positionPrefix, func(k, v []byte) error {
		var rec positionRecord
		if err := decodeRecord(k, v, &rec); err != nil {
			return err
		}
		if id == "" || rec.Asset == id {
			out = append(out, positionFromRecord(&rec))
		}
		return nil
	})
	return out, err
}

// --- lending ---

func (s *Store) GetLend(asset string) (*reserves.LendMetadata, bool, error) {
	var rec lendRecord
	ok, err := getRLP(s, assetKey(lendPrefix, asset), &rec)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &reserves.LendMetadata{Epoch: rec.Epoch, Amount: decodeAmount(rec.Amount), ReceiptNonce: rec.ReceiptNonce}, true, nil
}

func (s *Store) PutLend(asset string, meta *reserves.LendMetadata) error {
	if meta == nil {
		return fmt.Errorf("stable: nil lend metadata")
	}
	amount, err := encodeAmount(meta.Amount)
	if err != nil {
		return err
	}
	return putRLP(s, assetKey(lendPrefix, asset), &lendRecord{Epoch: meta.Epoch, Amount: amount, ReceiptNonce: meta.ReceiptNonce})
}

func (s *Store) DeleteLend(asset string) error {
	return s.del(assetKey(lendPrefix, asset))
}

func continuationFromRecord(rec *continuationRecord) *reserves.Continuation {
	return &reserves.Continuation{
		Token:        rec.Token,
		Asset:        rec.Asset,
		Kind:         reserves.Kind(rec.Kind),
		Epoch:        rec.Epoch,
		Amount:       decodeAmount(rec.Amount),
		ReceiptNonce: rec.ReceiptNonce,
		CreatedAt:    int64(rec.CreatedAt),
	}
}

func (s *Store) GetPending(token string) (*reserves.Continuation, bool, error) {
	var rec continuationRecord
	ok, err := getRLP(s, key(pendingPrefix, []byte(token)), &rec)
	if err != nil || !ok {
		return nil, ok, err
	}
	return continuationFromRecord(&rec), true, nil
}

func (s *Store) PutPending(c *reserves.Continuation) error {
	if c == nil || c.Token == "" {
		return fmt.Errorf("stable: continuation token required")
	}
	amount, err := encodeAmount(c.Amount)
	if err != nil {
		return err
	}
	createdAt := c.CreatedAt
	if createdAt < 0 {
		createdAt = 0
	}
	return putRLP(s, key(pendingPrefix, []byte(c.Token)), &continuationRecord{
		Token:        c.Token,
		Asset:        pool.NormalizeAsset(c.Asset),
		Kind:         string(c.Kind),
		Epoch:        c.Epoch,
		Amount:       amount,
		ReceiptNonce: c.ReceiptNonce,
		CreatedAt:    uint64(createdAt),
	})
}

func (s *Store) DeletePending(token string) error {
	return s.del(key(pendingPrefix, []byte(token)))
}

func (s *Store) ListPending() ([]*reserves.Continuation, error) {
	var out []*reserves.Continuation
	err := s.iterate(pendingPrefix, func(k, v []byte) error {
		var rec continuationRecord
		if err := decodeRecord(k, v, &rec); err != nil {
			return err
		}
		out = append(out, continuationFromRecord(&rec))
		return nil
	})
	return out, err
}

// --- tokens ---

func tokenKey(prefix []byte, token string, nonce uint64) []byte {
	return key(prefix, []byte(tokens.NormalizeToken(token)), uint64Bytes(nonce))
}

func balanceKey(token string, nonce uint64, owner crypto.Address) []byte {
	return key(tokenKey(balancePrefix, token, nonce), []byte("/"+owner.String()))
}

func (s *Store) TokenBalance(token string, nonce uint64, owner crypto.Address) (*big.Int, error) {
	data, _, err := s.get(balanceKey(token, nonce, owner))
	if err != nil {
		return nil, err
	}
	return decodeAmount(data), nil
}

func (s *Store) PutTokenBalance(token string, nonce uint64, owner crypto.Address, amount *big.Int) error {
	k := balanceKey(token, nonce, owner)
	if amount == nil || amount.Sign() == 0 {
		return s.del(k)
	}
	b, err := encodeAmount(amount)
	if err != nil {
		return err
	}
	return s.put(k, b)
}

func (s *Store) TokenSupply(token string, nonce uint64) (*big.Int, error) {
	data, _, err := s.get(tokenKey(supplyPrefix, token, nonce))
	if err != nil {
		return nil, err
	}
	return decodeAmount(data), nil
}

func (s *Store) PutTokenSupply(token string, nonce uint64, amount *big.Int) error {
	k := tokenKey(supplyPrefix, token, nonce)
	if amount == nil || amount.Sign() == 0 {
		return s.del(k)
	}
	b, err := encodeAmount(amount)
	if err != nil {
		return err
	}
	return s.put(k, b)
}

// NextTokenNonce allocates receipt nonces starting at one.
func (s *Store) NextTokenNonce(token string) (uint64, error) {
	k := key(tokenNoncePrefix, []byte(tokens.NormalizeToken(token)))
	data, _, err := s.get(k)
	if err != nil {
		return 0, err
	}
	next := decodeAmount(data).Uint64() + 1
	if err := s.put(k, new(big.Int).SetUint64(next).Bytes()); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) TokenReceipt(token string, nonce uint64) (*tokens.Receipt, bool, error) {
	var rec tokenReceiptRecord
	ok, err := getRLP(s, tokenKey(tokenReceiptKey, token, nonce), &rec)
	if err != nil || !ok {
		return nil, ok, err
	}
	owner, err := crypto.DecodeAddress(rec.Owner)
	if err != nil {
		return nil, false, fmt.Errorf("stable: receipt owner: %w", err)
	}
	return &tokens.Receipt{Token: rec.Token, Nonce: rec.Nonce, Asset: rec.Asset, Owner: owner, IssuedAt: int64(rec.IssuedAt)}, true, nil
}

func (s *Store) PutTokenReceipt(r *tokens.Receipt) error {
	if r == nil {
		return fmt.Errorf("stable: nil receipt")
	}
	issued := r.IssuedAt
	if issued < 0 {
		issued = 0
	}
	return putRLP(s, tokenKey(tokenReceiptKey, r.Token, r.Nonce), &tokenReceiptRecord{
		Token:    tokens.NormalizeToken(r.Token),
		Nonce:    r.Nonce,
		Asset:    r.Asset,
		Owner:    r.Owner.String(),
		IssuedAt: uint64(issued),
	})
}

func (s *Store) DeleteTokenReceipt(token string, nonce uint64) error {
	return s.del(tokenKey(tokenReceiptKey, token, nonce))
}

// --- swap guardrails ---

func (s *Store) GetSwapUsage(addr crypto.Address, period string) (*big.Int, error) {
	data, _, err := s.get(key(swapUsagePrefix, []byte(period), []byte(addr.String())))
	if err != nil {
		return nil, err
	}
	return decodeAmount(data), nil
}

func (s *Store) PutSwapUsage(addr crypto.Address, period string, amount *big.Int) error {
	k := key(swapUsagePrefix, []byte(period), []byte(addr.String()))
	if amount == nil || amount.Sign() == 0 {
		return s.del(k)
	}
	b, err := encodeAmount(amount)
	if err != nil {
		return err
	}
	return s.put(k, b)
}

func (s *Store) GetSwapVelocity(addr crypto.Address) ([]uint64, error) {
	var samples []uint64
	if _, err := getRLP(s, key(swapVelocityKey, []byte(addr.String())), &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

func (s *Store) PutSwapVelocity(addr crypto.Address, samples []uint64) error {
	k := key(swapVelocityKey, []byte(addr.String()))
	if len(samples) == 0 {
		return s.del(k)
	}
	return putRLP(s, k, samples)
}
