package httpadapter

import (
	"net/http"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrNotFound), domain.IsKind(err, domain.ErrToolNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrEngineExhausted):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrCancelled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
