package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/safeguard/internal/apperr"
	"github.com/roach88/safeguard/internal/risk"
)

// errorBody is the wire shape of every rejection.
type errorBody struct {
	Error     string      `json:"error"`
	Limit     json.Number `json:"limit,omitempty"`
	Attempted json.Number `json:"attempted,omitempty"`
	Message   string      `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "error", err)
	}
}

func (s *Server) writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError maps err onto a status, a Retry-After header and an errorBody.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if rej, ok := risk.IsRejection(err); ok {
		setRetryAfter(w, rej.RetryAfter)
		body := errorBody{Error: string(rej.Code), Message: rej.Message}
		if rej.Code != risk.CodeCircuitOpen {
			body.Limit = json.Number(rej.Limit.String())
			body.Attempted = json.Number(rej.Attempted.String())
		}
		s.writeJSON(w, rej.Status, body)
		return
	}
	if ae, ok := apperr.As(err); ok {
		setRetryAfter(w, ae.RetryAfter)
		s.writeJSON(w, ae.HTTPStatus(), errorBody{Error: string(ae.Code), Message: ae.Message})
		return
	}
	s.logger.Error("request failed", "error", err)
	s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "INTERNAL", Message: "internal error"})
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	if d <= 0 {
		return
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
}

// decode reads a JSON body into v and runs struct validation.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("invalid JSON body: %v", err)
	}
	if err := s.validate.Struct(v); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			rule := fe.Tag()
			if fe.Param() != "" {
				rule = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
			}
			return apperr.Validation("%s failed %q", fe.Field(), rule)
		}
		return apperr.Validation("%v", err)
	}
	return nil
}
