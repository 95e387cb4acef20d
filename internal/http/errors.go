package httpx

import (
	"errors"
	"net/http"

	"github.com/ticketpress/ticketpress/internal/data"
	apperrors "github.com/ticketpress/ticketpress/internal/errors"
	"github.com/ticketpress/ticketpress/internal/service"
)

// writeServiceError maps service-layer errors onto HTTP responses.
// Validation failures carry their per-field messages; everything else maps by
// error code so handlers never branch on error strings.
func writeServiceError(w http.ResponseWriter, err error) {
	var specErr *service.SpecValidationError
	if errors.As(err, &specErr) {
		WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error":   string(apperrors.ErrCodeValidation),
			"message": "spec validation failed",
			"errors":  specErr.Errors,
		})
		return
	}

	code := apperrors.GetCode(err)
	status := statusForCode(code)
	if status >= http.StatusInternalServerError {
		// Internal detail stays in the logs, not the response body.
		WriteError(w, ErrorParams{
			Code:    status,
			ErrCode: string(apperrors.ErrCodeInternal),
			Err:     errors.New("internal error"),
		})
		return
	}
	WriteError(w, ErrorParams{Code: status, ErrCode: string(code), Err: err})
}

func statusForCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidation,
		apperrors.ErrCodeUnsafeContent,
		apperrors.ErrCodeMalformedSVG,
		apperrors.ErrCodeLayoutOverflow:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// isNotFound widens apperrors.IsNotFound to cover the repository sentinel so
// handlers treat both the same way.
func isNotFound(err error) bool {
	return apperrors.IsNotFound(err) || errors.Is(err, data.ErrJobNotFound)
}
