package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"syscall"

	contextutils "skillmodel/internal/utils"

	"github.com/lib/pq"
)

// Postgres SQLSTATE classes and codes that are safe to retry
const (
	pqClassConnectionException      = "08"
	pqClassInsufficientResources    = "53"
	pqClassOperatorIntervention     = "57"
	pqCodeSerializationFailure      = "40001"
	pqCodeDeadlockDetected          = "40P01"
	pqCodeLockNotAvailable          = "55P03"
	pqCodeQueryCanceledByStatement  = "57014"
	pqClassIntegrityConstraintError = "23"
)

// IsTransientError reports whether err is a store failure that a later retry can be expected to clear
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqCodeSerializationFailure, pqCodeDeadlockDetected, pqCodeLockNotAvailable:
			return true
		case pqCodeQueryCanceledByStatement:
			return false
		}
		switch pqErr.Code.Class() {
		case pqClassConnectionException, pqClassInsufficientResources, pqClassOperatorIntervention:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return strings.Contains(err.Error(), "connection refused") || strings.Contains(err.Error(), "bad connection")
}

// IsConstraintViolation reports whether err is a Postgres integrity constraint error
func IsConstraintViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == pqClassIntegrityConstraintError
	}
	return false
}

// ClassifyStoreError wraps err with message and tags transient failures with TRANSIENT_STORE_ERROR
// so callers and the worker know the whole pipeline may be retried.
func ClassifyStoreError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *contextutils.AppError
	if errors.As(err, &appErr) {
		return contextutils.WrapError(err, message)
	}

	if IsTransientError(err) {
		return contextutils.NewAppErrorWithCause(contextutils.ErrorCodeTransientStore, contextutils.SeverityWarn,
			message, err.Error(), err)
	}

	return contextutils.NewAppErrorWithCause(contextutils.ErrorCodeDatabaseQuery, contextutils.SeverityError,
		message, err.Error(), err)
}
