package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/dl-alexandre/drivesync/internal/utils"
)

// Precondition reasons
const (
	ReasonNotAuthenticated = "not_authenticated"
	ReasonOffline          = "offline"
	ReasonNetworkPolicy    = "network_policy"
)

// PreconditionError aborts a run before any I/O happens.
type PreconditionError struct {
	Reason  string
	Message string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("sync precondition failed (%s): %s", e.Reason, e.Message)
}

// TransferError is a failure isolated to one plan item.
type TransferError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// RateLimitError is returned once the retry budget for a throttled call is spent.
type RateLimitError struct {
	Attempts int
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// AuthError means credentials were rejected even after a refresh.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "authentication failed"
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ChecksumMismatchError means the bytes written locally do not hash to the
// value reported by Drive.
type ChecksumMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// IsAuthError reports whether err carries an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return stderrors.As(err, &authErr)
}

// IsPrecondition reports whether err carries a PreconditionError.
func IsPrecondition(err error) bool {
	var preErr *PreconditionError
	return stderrors.As(err, &preErr)
}

// CodeOf returns the stable error code carried by err.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var (
		preErr      *PreconditionError
		authErr     *AuthError
		rateErr     *RateLimitError
		checksumErr *ChecksumMismatchError
		appErr      *utils.AppError
	)
	switch {
	case stderrors.As(err, &preErr):
		if preErr.Reason == ReasonNotAuthenticated {
			return utils.ErrCodeAuthRequired
		}
		return utils.ErrCodePreconditionFailed
	case stderrors.As(err, &authErr):
		return utils.ErrCodeAuthInvalid
	case stderrors.As(err, &rateErr):
		return utils.ErrCodeRateLimited
	case stderrors.As(err, &checksumErr):
		return utils.ErrCodeChecksumMismatch
	case stderrors.As(err, &appErr):
		return appErr.CLIError.Code
	}
	var transferErr *TransferError
	if stderrors.As(err, &transferErr) {
		return utils.ErrCodeTransferFailed
	}
	return utils.ErrCodeUnknown
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *utils.AppError
	if stderrors.As(err, &appErr) {
		return appErr.CLIError.Code == code
	}
	return false
}

// ToAppError converts any error into an AppError suitable for CLI output.
func ToAppError(err error) *utils.AppError {
	var appErr *utils.AppError
	if stderrors.As(err, &appErr) && !hasTypedWrapper(err) {
		return appErr
	}
	code := CodeOf(err)
	builder := utils.NewCLIError(code, err.Error())
	var preErr *PreconditionError
	if stderrors.As(err, &preErr) {
		builder.WithContext("reason", preErr.Reason)
	}
	var rateErr *RateLimitError
	if stderrors.As(err, &rateErr) {
		builder.WithRetryable(true).WithContext("attempts", rateErr.Attempts)
	}
	return utils.NewAppError(builder.Build())
}

func hasTypedWrapper(err error) bool {
	var (
		authErr *AuthError
		rateErr *RateLimitError
	)
	return stderrors.As(err, &authErr) || stderrors.As(err, &rateErr)
}
