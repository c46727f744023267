package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"kyc-service/internal/kyc"
	"kyc-service/internal/service"
	"kyc-service/internal/util"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

func errorResponse(err error, message string) Response {
	return Response{Success: false, Error: err.Error(), Message: message}
}

func respondWithJSON(w http.ResponseWriter, logger *zap.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func respondWithError(w http.ResponseWriter, logger *zap.Logger, statusCode int, err error, message string) {
	if statusCode >= http.StatusInternalServerError {
		logger.Error("HTTP error response",
			util.ErrorField(err),
			util.Int("status_code", statusCode),
			util.String("message", message))
	} else {
		logger.Warn("HTTP error response",
			util.ErrorField(err),
			util.Int("status_code", statusCode),
			util.String("message", message))
	}
	respondWithJSON(w, logger, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	var verr *kyc.ValidationError
	switch {
	case errors.As(err, &verr):
		if verr.Kind == kyc.KindFileTooLarge {
			return http.StatusRequestEntityTooLarge
		}
		if verr.Kind == kyc.KindUnsupportedType {
			return http.StatusUnsupportedMediaType
		}
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, kyc.ErrNotFound), errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, kyc.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, service.ErrSearchDisabled):
		return http.StatusNotImplemented
	}

	var uerr *kyc.UploadError
	var nerr *kyc.NetworkError
	if errors.As(err, &uerr) || errors.As(err, &nerr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
