package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	EngineErrorBadInput         = "ENGINE_BAD_INPUT"
	EngineErrorProviderNotFound = "ENGINE_PROVIDER_NOT_FOUND"
	EngineErrorNotFound         = "ENGINE_NOT_FOUND"
	EngineErrorCredentialFailed = "ENGINE_CREDENTIAL_FAILED"
	EngineErrorSyncConflict     = "ENGINE_SYNC_CONFLICT"
	EngineErrorSyncFailed       = "ENGINE_SYNC_FAILED"
	EngineErrorUnauthorized     = "ENGINE_UNAUTHORIZED"
	EngineErrorInternal         = "ENGINE_INTERNAL_ERROR"
)

// EngineErrorMapper normalizes arbitrary errors into the engine taxonomy so
// transports and job workers see consistent categories and codes.
func EngineErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureEngineErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "plugin") && strings.Contains(msg, "not registered"):
		return newEngineError(err.Error(), goerrors.CategoryNotFound, EngineErrorProviderNotFound)
	case strings.Contains(msg, "not found"):
		return newEngineError(err.Error(), goerrors.CategoryNotFound, EngineErrorNotFound)
	case strings.Contains(msg, "connection test"), strings.Contains(msg, "exchange"):
		return newEngineError(err.Error(), goerrors.CategoryAuth, EngineErrorCredentialFailed)
	case strings.Contains(msg, "already running"):
		return newEngineError(err.Error(), goerrors.CategoryConflict, EngineErrorSyncConflict)
	case strings.Contains(msg, "signature"):
		return newEngineError(err.Error(), goerrors.CategoryAuth, EngineErrorUnauthorized)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newEngineError(err.Error(), goerrors.CategoryBadInput, EngineErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureEngineErrorEnvelope(mapped)
}

func newEngineError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureEngineErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureEngineErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = engineHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultEngineTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultEngineTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return EngineErrorBadInput
	case goerrors.CategoryNotFound:
		return EngineErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return EngineErrorUnauthorized
	case goerrors.CategoryConflict:
		return EngineErrorSyncConflict
	case goerrors.CategoryOperation:
		return EngineErrorSyncFailed
	default:
		return EngineErrorInternal
	}
}

func engineHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
