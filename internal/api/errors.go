package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/halfbloodedyash/Letterboxd/internal/review"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// statusForCode maps the stable failure codes onto HTTP statuses.
// Upstream fetch failures surface as 502 because the service acts as a
// gateway to the review site.
func statusForCode(code review.Code) int {
	switch code {
	case review.CodeEmptyURL,
		review.CodeInvalidURLFormat,
		review.CodeInvalidProtocol,
		review.CodeInvalidDomain,
		review.CodeNotReviewURL,
		review.CodeMissingURL,
		review.CodeInvalidPreset:
		return http.StatusBadRequest
	case review.CodeMissingSession:
		return http.StatusNotFound
	case review.CodeSessionExpired:
		return http.StatusGone
	case review.CodeRateLimited:
		return http.StatusTooManyRequests
	case review.CodeAccessDenied,
		review.CodeNotFound,
		review.CodeHTTPError,
		review.CodeFetchFailed,
		review.CodeInvalidRedirect,
		review.CodeRedirectFailed:
		return http.StatusBadGateway
	case review.CodeRenderTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders the JSON error envelope for a coded error. Uncoded
// errors are masked as internal failures without leaking the cause.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var body errorBody

	var coded *review.Error
	if errors.As(err, &coded) {
		body = errorBody{
			Code:    string(coded.Code),
			Message: coded.Message,
			Detail:  coded.Detail,
		}
	} else {
		body = errorBody{
			Code:    string(review.CodeRenderFailed),
			Message: "internal error",
		}
	}

	status := statusForCode(review.Code(body.Code))
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", body.Code),
			zap.Error(err),
		)
	}
	s.writeJSON(w, status, errorEnvelope{Error: body})
}
