package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/kdbuddy/kdbuddy/internal/errs"
)

const maxRequestBody = 1 << 20 // 1 MiB

type errorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.WithError(err).Warn("failed to encode response")
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

func (s *Server) respondDecodeError(w http.ResponseWriter, err error) {
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Malformed JSON payload")
	case errors.As(err, &typeError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("Invalid value for field %s", typeError.Field))
	case errors.Is(err, io.EOF):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request body cannot be empty")
	default:
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unable to parse request body")
	}
}

// respondFailure maps layer errors to statuses. Store and auth messages are
// passed through verbatim.
func (s *Server) respondFailure(w http.ResponseWriter, op string, err error) {
	var (
		validation *errs.ValidationError
		permission *errs.PermissionError
		auth       *errs.AuthError
		store      *errs.StoreError
	)
	switch {
	case errors.As(err, &validation):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", validation.Message)
	case errors.As(err, &permission):
		s.respondError(w, http.StatusUnauthorized, "LOGIN_REQUIRED", permission.Message)
	case errors.As(err, &auth):
		s.respondError(w, http.StatusUnauthorized, "AUTH_ERROR", auth.Message)
	case errors.Is(err, errs.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
	case errors.Is(err, errs.ErrConfirmationRequired):
		s.respondError(w, http.StatusPreconditionRequired, "CONFIRMATION_REQUIRED", "Pass confirm=true to delete")
	case errors.As(err, &store):
		s.logger.WithError(err).WithField("op", op).Warn("store rejected request")
		s.respondJSON(w, http.StatusBadGateway, errorResponse{
			Code:    "STORE_ERROR",
			Message: store.Message,
			Details: map[string]string{"op": store.Op},
		})
	default:
		s.logger.WithError(err).WithField("op", op).Error("request failed")
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to "+op)
	}
}

// idParam validates a path identifier; the store only issues uuids.
func idParam(raw string) (string, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid identifier")
	}
	return id.String(), nil
}
