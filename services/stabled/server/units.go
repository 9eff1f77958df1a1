package server

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"hedgepool/crypto"
	nativecommon "hedgepool/native/common"
	"hedgepool/native/fixedpoint"
)

// HeaderAccount names the bech32 account a request acts for.
const HeaderAccount = "X-Account"

const maxBodyBytes = 1 << 20

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// caller resolves the acting account. A token bound account wins; an
// X-Account header naming someone else is rejected.
func caller(r *http.Request) (crypto.Address, error) {
	raw := strings.TrimSpace(r.Header.Get(HeaderAccount))
	bound, hasBound := accountFromContext(r.Context())
	if raw == "" {
		if hasBound {
			return bound, nil
		}
		return crypto.Address{}, fmt.Errorf("%w: %s header required", errBadRequest, HeaderAccount)
	}
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %s: %v", errBadRequest, HeaderAccount, err)
	}
	if hasBound && !bound.Equal(addr) {
		return crypto.Address{}, fmt.Errorf("%w: %s does not match token subject", nativecommon.ErrUnauthorized, HeaderAccount)
	}
	return addr, nil
}

// amount parses a base-unit integer string. Empty strings yield nil so
// optional bounds stay unset.
func amount(field, raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	v, err := fixedpoint.ParseAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return v, nil
}

func nonceParam(r *http.Request) (uint64, error) {
	nonce, err := strconv.ParseUint(chi.URLParam(r, "nonce"), 10, 64)
	if err != nil || nonce == 0 {
		return 0, fmt.Errorf("%w: invalid position nonce", errBadRequest)
	}
	return nonce, nil
}

func assetParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "asset")))
}

// units renders an amount; nil renders as "0".
func units(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
