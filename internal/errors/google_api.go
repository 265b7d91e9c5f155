package errors

import (
	"github.com/dl-alexandre/drivesync/internal/logging"
	"github.com/dl-alexandre/drivesync/internal/types"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"google.golang.org/api/googleapi"
)

// ClassifyGoogleAPIError converts a Drive API failure into an AppError with a
// stable code and a retryable flag.
func ClassifyGoogleAPIError(service string, err error, reqCtx *types.RequestContext, logger logging.Logger) error {
	apiErr, ok := err.(*googleapi.Error)
	if !ok {
		logger.Error("Non-API error",
			logging.F("error", err.Error()),
			logging.F("traceId", reqCtx.TraceID),
		)
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeNetworkError, err.Error()).
			WithRetryable(true).
			WithContext("traceId", reqCtx.TraceID).
			WithContext("service", service).
			Build())
	}

	code, retryable := classifyStatus(apiErr)

	logger.Error("API error classified",
		logging.F("httpStatus", apiErr.Code),
		logging.F("errorCode", code),
		logging.F("retryable", retryable),
		logging.F("message", apiErr.Message),
		logging.F("traceId", reqCtx.TraceID),
		logging.F("service", service),
	)

	builder := utils.NewCLIError(code, apiErr.Message).
		WithHTTPStatus(apiErr.Code).
		WithRetryable(retryable).
		WithContext("traceId", reqCtx.TraceID).
		WithContext("requestType", string(reqCtx.RequestType)).
		WithContext("service", service)

	if reqCtx.Path != "" {
		builder.WithContext("path", reqCtx.Path)
	}
	if reqCtx.FileID != "" {
		builder.WithContext("fileId", reqCtx.FileID)
	}

	if len(apiErr.Errors) > 0 {
		builder.WithDriveReason(apiErr.Errors[0].Reason)
		switch apiErr.Errors[0].Reason {
		case "storageQuotaExceeded":
			builder.WithContext("suggestedAction", "free up space in Google Drive or upgrade storage")
		case "dailyLimitExceeded":
			builder.WithContext("suggestedAction", "quota will reset in 24 hours")
		case "appNotAuthorizedToFile":
			builder.WithContext("suggestedAction", "file may require access via web interface first")
		case "insufficientFilePermissions":
			builder.WithContext("capability", "write_access_required")
		case "domainPolicy":
			builder.WithContext("suggestedAction", "contact domain administrator")
		}
	}

	switch code {
	case utils.ErrCodeAuthExpired:
		builder.WithContext("suggestedAction", "run 'drivesync auth import' with a fresh token")
	case utils.ErrCodeFileNotFound:
		builder.WithContext("suggestedAction", "verify the folder ID or path is correct and accessible")
	case utils.ErrCodeRateLimited:
		builder.WithContext("suggestedAction", "rate limit exceeded, retrying with backoff")
	}

	if apiErr.Code >= 500 && apiErr.Code <= 504 {
		builder.WithContext("serverError", true)
	}

	return utils.NewAppError(builder.Build())
}

func classifyStatus(apiErr *googleapi.Error) (string, bool) {
	switch apiErr.Code {
	case 400:
		return utils.ErrCodeInvalidArgument, false
	case 401:
		return utils.ErrCodeAuthExpired, false
	case 403:
		code := utils.ErrCodePermissionDenied
		for _, e := range apiErr.Errors {
			switch e.Reason {
			case "storageQuotaExceeded":
				code = utils.ErrCodeQuotaExceeded
			case "sharingRateLimitExceeded", "userRateLimitExceeded", "rateLimitExceeded":
				return utils.ErrCodeRateLimited, true
			case "dailyLimitExceeded":
				code = utils.ErrCodeRateLimited
			case "domainPolicy":
				code = utils.ErrCodePolicyViolation
			}
		}
		return code, false
	case 404:
		return utils.ErrCodeFileNotFound, false
	case 409:
		return utils.ErrCodeInvalidArgument, false
	case 429:
		return utils.ErrCodeRateLimited, true
	case 503:
		return utils.ErrCodeRateLimited, true
	case 500, 502, 504:
		return utils.ErrCodeNetworkError, true
	}
	return utils.ErrCodeUnknown, apiErr.Code >= 500
}

// IsRateLimitStatus reports whether the API error belongs to the
// rate-limit class that is retried with backoff.
func IsRateLimitStatus(err error) bool {
	apiErr, ok := err.(*googleapi.Error)
	if !ok {
		return false
	}
	code, retryable := classifyStatus(apiErr)
	return code == utils.ErrCodeRateLimited && retryable
}

// IsRetryableStatus reports whether the API error should be retried at all.
func IsRetryableStatus(err error) bool {
	apiErr, ok := err.(*googleapi.Error)
	if !ok {
		return false
	}
	_, retryable := classifyStatus(apiErr)
	return retryable
}

// IsUnauthorized reports a 401 response.
func IsUnauthorized(err error) bool {
	apiErr, ok := err.(*googleapi.Error)
	return ok && apiErr.Code == 401
}

// IsNotFound reports a 404 response.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*googleapi.Error)
	return ok && apiErr.Code == 404
}
