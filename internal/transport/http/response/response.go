package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mazi76erX2/vault-sub000/internal/domain"
)

const (
	CodeInvalidQuery         = "invalid_query"
	CodeRetrievalUnavailable = "retrieval_unavailable"
	CodeDeadlineExceeded     = "deadline_exceeded"
	CodeConfiguration        = "configuration_error"
	CodeInternal             = "internal_error"
	CodeUnavailable          = "unavailable"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error     ErrorBody `json:"error"`
	RequestID string    `json:"request_id"`
}

func Error(c *gin.Context, httpStatus int, code, message, requestID string) {
	c.JSON(httpStatus, ErrorResponse{
		Error:     ErrorBody{Code: code, Message: message},
		RequestID: requestID,
	})
}

// FromError maps a use case error to a status code and error code.
func FromError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		return http.StatusBadRequest, CodeInvalidQuery
	case errors.Is(err, domain.ErrRetrievalUnavailable):
		return http.StatusServiceUnavailable, CodeRetrievalUnavailable
	case errors.Is(err, domain.ErrDeadlineExceeded):
		return http.StatusGatewayTimeout, CodeDeadlineExceeded
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusInternalServerError, CodeConfiguration
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
