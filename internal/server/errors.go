package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error          apperr.Kind `json:"error"`
	Message        string      `json:"message"`
	Details        string      `json:"details,omitempty"`
	Provider       string      `json:"provider,omitempty"`
	ProviderStatus int         `json:"provider_status,omitempty"`
	DocID          string      `json:"doc_id,omitempty"`
	Status         int         `json:"status"`
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindInvalidArgument:  http.StatusBadRequest,
	apperr.KindNotFound:         http.StatusNotFound,
	apperr.KindNotReady:         http.StatusConflict,
	apperr.KindExtraction:       http.StatusUnprocessableEntity,
	apperr.KindEmptyDocument:    http.StatusUnprocessableEntity,
	apperr.KindRateLimit:        http.StatusTooManyRequests,
	apperr.KindProvider:         http.StatusBadGateway,
	apperr.KindStorageIntegrity: http.StatusInternalServerError,
	apperr.KindTimeout:          http.StatusGatewayTimeout,
	apperr.KindInterrupted:      http.StatusServiceUnavailable,
	apperr.KindInternal:         http.StatusInternalServerError,
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	if status, ok := kindStatus[apperr.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

var messages = map[apperr.Kind]string{
	apperr.KindInvalidArgument:  "The request is invalid.",
	apperr.KindNotFound:         "Document not found.",
	apperr.KindNotReady:         "The document is still being processed.",
	apperr.KindExtraction:       "Failed to extract text from the document.",
	apperr.KindEmptyDocument:    "No text could be extracted from the document.",
	apperr.KindRateLimit:        "The AI provider is rate limiting requests. Try again later.",
	apperr.KindProvider:         "The AI provider request failed.",
	apperr.KindStorageIntegrity: "A stored document record is corrupted.",
	apperr.KindTimeout:          "The request timed out.",
	apperr.KindInterrupted:      "The operation was interrupted.",
	apperr.KindInternal:         "Internal server error.",
}

// newErrorResponse renders err without internal details for unclassified errors.
func newErrorResponse(err error) errorResponse {
	kind := apperr.KindOf(err)
	resp := errorResponse{Error: kind, Message: messages[kind], Status: statusFor(err)}
	var mbe *http.MaxBytesError
	switch e, ok := apperr.As(err); {
	case errors.As(err, &mbe):
		resp.Error = apperr.KindInvalidArgument
		resp.Message = "The uploaded file is too large."
		resp.Details = "limit is " + strconv.FormatInt(mbe.Limit, 10) + " bytes"
		resp.Status = http.StatusRequestEntityTooLarge
	case ok:
		resp.Details = e.Detail
		resp.Provider = e.Provider
		resp.ProviderStatus = e.StatusCode
	}
	return resp
}
