package server

import (
	"encoding/json"
	"errors"
	"net/http"

	nativecommon "hedgepool/native/common"
	"hedgepool/native/fixedpoint"
	"hedgepool/native/hedging"
	"hedgepool/native/keeper"
	"hedgepool/native/liquidity"
	"hedgepool/native/oracle"
	"hedgepool/native/pool"
	"hedgepool/native/reserves"
	"hedgepool/native/swap"
	"hedgepool/native/tokens"
)

var errorStatuses = []struct {
	status int
	errs   []error
}{
	{http.StatusBadRequest, []error{
		hedging.ErrInvalidAmount, liquidity.ErrInvalidAmount, swap.ErrInvalidAmount,
		tokens.ErrInvalidAmount, tokens.ErrInvalidAccount, pool.ErrInvalidAssetConfig,
		fixedpoint.ErrNegative, errBadRequest,
	}},
	{http.StatusForbidden, []error{nativecommon.ErrUnauthorized, hedging.ErrNotHolder}},
	{http.StatusNotFound, []error{
		pool.ErrNotWhitelisted, hedging.ErrPositionNotFound, tokens.ErrReceiptNotFound, reserves.ErrNotLent,
	}},
	{http.StatusConflict, []error{
		pool.ErrAlreadyWhitelisted, pool.ErrPoolNotEmpty,
		hedging.ErrPositionClosed, hedging.ErrTooEarly, hedging.ErrUnderLimitHedge, hedging.ErrAboveMaintenanceRatio,
		hedging.ErrOracleAboveMax, hedging.ErrOracleBelowMin,
		liquidity.ErrSlippageExceeded, liquidity.ErrReceiptsUnbacked, swap.ErrSlippageExceeded,
		reserves.ErrAlreadyLent, reserves.ErrTooEarly, reserves.ErrDepositPending, reserves.ErrWithdrawPending,
	}},
	{http.StatusUnprocessableEntity, []error{
		hedging.ErrOverTargetHedge, hedging.ErrCoverExceedsPool, hedging.ErrPaymentBelowFee,
		hedging.ErrLeverageTooHigh, hedging.ErrRemoveExceedsDeposit, hedging.ErrInsufficientReserves,
		liquidity.ErrInsufficientReserves, keeper.ErrInsufficientReserves, swap.ErrInsufficientLiquidity,
		tokens.ErrInsufficientBalance, reserves.ErrNothingToLend, reserves.ErrReservesFloor,
	}},
	{http.StatusTooManyRequests, []error{swap.ErrRiskLimit}},
	{http.StatusServiceUnavailable, []error{
		nativecommon.ErrModulePaused, oracle.ErrNoFreshQuote, oracle.ErrNotFound, oracle.ErrInvalidQuote,
		reserves.ErrRequestFailed,
	}},
}

var errBadRequest = errors.New("invalid request")

// statusFor maps protocol errors onto HTTP status codes.
func statusFor(err error) int {
	for _, entry := range errorStatuses {
		for _, target := range entry.errs {
			if errors.Is(err, target) {
				return entry.status
			}
		}
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message, RequestID: w.Header().Get(HeaderRequestID)})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()), "error", err)
	}
	writeError(w, status, err.Error())
}
