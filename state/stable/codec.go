package stable

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// Amounts are stored as minimal big-endian 256-bit words.

func encodeAmount(v *big.Int) ([]byte, error) {
	if v == nil {
		return []byte{}, nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("stable: negative amount %s", v)
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("stable: amount %s exceeds 256 bits", v)
	}
	return u.Bytes(), nil
}

func decodeAmount(b []byte) *big.Int {
	if len(b) == 0 {
		return new(big.Int)
	}
	return new(uint256.Int).SetBytes(b).ToBig()
}

func encodeAmounts(values ...*big.Int) ([][]byte, error) {
	out := make([][]byte, len(values))
	for i, v := range values {
		b, err := encodeAmount(v)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func uint64Bytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func putRLP(s *Store, key []byte, record any) error {
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return err
	}
	return s.put(key, encoded)
}

func getRLP(s *Store, key []byte, record any) (bool, error) {
	data, ok, err := s.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := decodeRecord(key, data, record); err != nil {
		return false, err
	}
	return true, nil
}

type poolRecord struct {
	CollateralAmount       []byte
	StablecoinAmount       []byte
	CollateralReserves     []byte
	TotalCollateralCovered []byte
	TotalCoveredValue      []byte
}

type assetRecord struct {
	ID                   string
	Ticker               string
	Decimals             uint32
	MinFee               []byte
	MaxFee               []byte
	TargetHedgingRatio   []byte
	LimitHedgingRatio    []byte
	MinSlippage          []byte
	MaxSlippage          []byte
	MaxLeverage          []byte
	MaintenanceRatio     []byte
	LendPercentage       []byte
	MinReservesAfterLend []byte
	ProviderFeeShare     []byte
	ProviderLendShare    []byte
}

type feeRecord struct {
	HedgingRatio []byte
	MintFee      []byte
	BurnFee      []byte
	Slippage     []byte
}

type receiptPoolRecord struct {
	Backing     []byte
	Outstanding []byte
}

type positionRecord struct {
	Nonce       uint64
	Asset       string
	Deposit     []byte
	Covered     []byte
	OracleValue []byte
	CreatedAt   uint64
	ForceClosed bool
	Withdraw    []byte
}

type lendRecord struct {
	Epoch        uint64
	Amount       []byte
	ReceiptNonce uint64
}

type continuationRecord struct {
	Token        string
	Asset        string
	Kind         string
	Epoch        uint64
	Amount       []byte
	ReceiptNonce uint64
	CreatedAt    uint64
}

type tokenReceiptRecord struct {
	Token    string
	Nonce    uint64
	Asset    string
	Owner    string
	IssuedAt uint64
}

func decodeRecord(key, data []byte, record any) error {
	if err := rlp.DecodeBytes(data, record); err != nil {
		return fmt.Errorf("stable: decode %q: %w", key, err)
	}
	return nil
}
