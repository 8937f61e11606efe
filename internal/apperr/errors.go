// Package apperr holds the error kinds shared by the ledger, the panel adapters
// and the settlement services.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateSettlement = errors.New("payment already settled")
	ErrPanelUnavailable    = errors.New("panel unavailable")
	ErrPanelRejected       = errors.New("panel rejected request")
	ErrMalformedInput      = errors.New("malformed input")
	ErrConcurrentUpdate    = errors.New("subscription changed concurrently")
	ErrUnauthorized        = errors.New("unauthorized")
)

// IsNotFound сообщает, что запрошенная сущность отсутствует.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPanelFailure сообщает о неудаче на стороне одного сервера.
// Такие ошибки не прерывают reconcile.
func IsPanelFailure(err error) bool {
	return errors.Is(err, ErrPanelUnavailable) || errors.Is(err, ErrPanelRejected)
}

// HTTPStatus переводит вид ошибки в HTTP-код ответа.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, ErrPanelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrPanelRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
