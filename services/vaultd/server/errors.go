package server

import (
	"errors"
	"net/http"

	"yieldvault/native/vault"
)

var errBadRequest = errors.New("bad request")

// toStatus maps an engine error to an HTTP status and its stable code.
func toStatus(err error) (int, string) {
	code := vault.ErrorCode(err)
	switch code {
	case "ok":
		return http.StatusOK, code
	case "invalid_amount":
		return http.StatusBadRequest, code
	case "invalid_asset", "insufficient_shares", "insufficient_balance":
		return http.StatusUnprocessableEntity, code
	case "reentrant_call", "rebase_with_shares":
		return http.StatusConflict, code
	case "conversion_failed":
		return http.StatusBadGateway, code
	case "staking_unavailable", "paused", "engine_busy":
		return http.StatusServiceUnavailable, code
	}
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest, "bad_request"
	}
	return http.StatusInternalServerError, code
}
