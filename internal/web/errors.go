package web

import (
	"errors"
	"net/http"
	"strings"

	"eventpro/internal/common"
	"eventpro/internal/identity"
	appLog "eventpro/internal/log"
)

var errBadBody = common.NewValidationError([]string{"El cuerpo de la solicitud no es válido"})

func invalidParam(name string) error {
	return common.NewValidationError([]string{"Parámetro inválido: " + name})
}

// statusOf maps service errors to HTTP status codes.
func statusOf(err error) int {
	var verr *common.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrConflict), errors.Is(err, common.ErrInUse):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// messageOf is the user-facing text for err.
func messageOf(err error) (string, []string) {
	var (
		authErr *identity.AuthError
		verr    *common.ValidationError
		inUse   *common.InUseError
		opErr   *common.OpError
	)
	switch {
	case errors.As(err, &authErr):
		return identity.Message(err), nil
	case errors.As(err, &verr):
		return strings.Join(verr.Problems, ". "), verr.Problems
	case errors.As(err, &inUse):
		return "No se puede eliminar " + inUse.What +
			" porque está asignado a los siguientes eventos: " + strings.Join(inUse.Blockers, ", "), nil
	case errors.As(err, &opErr):
		return opErr.Message, nil
	case errors.Is(err, common.ErrUnauthorized):
		return "Sesión inválida o expirada", nil
	case errors.Is(err, common.ErrNotFound):
		return "No encontrado", nil
	case errors.Is(err, common.ErrConflict):
		return "El recurso ya existe", nil
	}
	return "Error interno del servidor", nil
}

// writeServiceError reports err with the status and message of its kind.
// Server-side failures are logged.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg, problems := messageOf(err)
	if status >= http.StatusInternalServerError {
		appLog.Error("request failed", err, "method", r.Method, "path", r.URL.Path)
	}
	writeJSON(w, status, errorResponse{Error: msg, Problems: problems})
}
