package apiv1

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"resume-billing/internal/domain"
	"resume-billing/internal/infra/logging"
)

type errorBody struct {
	Error   string            `json:"error"`
	Kind    domain.ErrorKind  `json:"kind,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	TraceID string            `json:"trace_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to its HTTP status by kind, with a few
// validation errors narrowed further.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrPlanNotFound),
		errors.Is(err, domain.ErrNoActiveSubscription):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrFeatureNotInPlan), errors.Is(err, domain.ErrFeatureDisabled),
		errors.Is(err, domain.ErrFeatureLimitReached):
		return http.StatusForbidden
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindPayment:
		return http.StatusPaymentRequired
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindIntegrity:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), Kind: domain.KindOf(err), TraceID: logging.TraceID(r.Context())}
	l := logging.With(r.Context(), s.log)
	if status >= http.StatusInternalServerError || status == http.StatusConflict {
		l.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		l.Debug().Err(err).Int("status", status).Msg("request rejected")
	}
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	if domain.IsRetryable(err) {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, body)
}

// decode reads a JSON body into dst and validates its struct tags.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "request body is required"})
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json: " + err.Error()})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fe.Tag()
			}
			writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "validation failed", Kind: domain.KindValidation, Fields: fields})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return false
	}
	return true
}
