package errors

import (
	"fmt"
	"testing"

	"github.com/dl-alexandre/drivesync/internal/utils"
)

func TestCodeOf(t *testing.T) {
	notFound := utils.NewAppError(utils.NewCLIError(utils.ErrCodeFileNotFound, "gone").Build())

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"not authenticated", &PreconditionError{Reason: ReasonNotAuthenticated}, utils.ErrCodeAuthRequired},
		{"offline", &PreconditionError{Reason: ReasonOffline}, utils.ErrCodePreconditionFailed},
		{"auth", &AuthError{}, utils.ErrCodeAuthInvalid},
		{"rate limit", &RateLimitError{Attempts: 5}, utils.ErrCodeRateLimited},
		{"checksum", &ChecksumMismatchError{Path: "a", Expected: "x", Actual: "y"}, utils.ErrCodeChecksumMismatch},
		{"transfer wrapping checksum", &TransferError{Op: "download", Path: "a", Err: &ChecksumMismatchError{}}, utils.ErrCodeChecksumMismatch},
		{"transfer wrapping app error", &TransferError{Op: "upload", Path: "a", Err: notFound}, utils.ErrCodeFileNotFound},
		{"plain transfer", &TransferError{Op: "upload", Path: "a", Err: fmt.Errorf("disk full")}, utils.ErrCodeTransferFailed},
		{"unknown", fmt.Errorf("boom"), utils.ErrCodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsAuthError(t *testing.T) {
	wrapped := fmt.Errorf("upload a.txt: %w", &AuthError{Err: fmt.Errorf("401")})
	if !IsAuthError(wrapped) {
		t.Error("Expected wrapped AuthError to be detected")
	}
	if IsAuthError(fmt.Errorf("other")) {
		t.Error("Expected plain error not to be an AuthError")
	}
}

func TestToAppError(t *testing.T) {
	appErr := ToAppError(&RateLimitError{Attempts: 5, Err: fmt.Errorf("429")})
	if appErr.CLIError.Code != utils.ErrCodeRateLimited {
		t.Errorf("Expected code %s, got %s", utils.ErrCodeRateLimited, appErr.CLIError.Code)
	}
	if !appErr.CLIError.Retryable {
		t.Error("Expected rate limit error to be retryable")
	}
	if appErr.CLIError.Context["attempts"] != 5 {
		t.Errorf("Expected attempts=5, got %v", appErr.CLIError.Context["attempts"])
	}

	original := utils.NewAppError(utils.NewCLIError(utils.ErrCodeFileNotFound, "gone").Build())
	if got := ToAppError(original); got != original {
		t.Error("Expected AppError to be returned unchanged")
	}

	pre := ToAppError(&PreconditionError{Reason: ReasonOffline, Message: "no network"})
	if pre.CLIError.Context["reason"] != ReasonOffline {
		t.Errorf("Expected reason context, got %v", pre.CLIError.Context)
	}
}
