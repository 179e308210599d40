package handler

import (
	"errors"
	"net/http"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

var errBadAddress = errors.New("malformed address")

// statusFor maps an action failure to an HTTP status.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindNoSigner:
		return http.StatusUnauthorized
	case domain.KindInFlight:
		return http.StatusConflict
	case domain.KindUserRejected:
		return http.StatusForbidden
	case domain.KindNetworkMismatch, domain.KindReadFailure:
		return http.StatusBadGateway
	case domain.KindReverted:
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, domain.ErrUnsupportedAction) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
