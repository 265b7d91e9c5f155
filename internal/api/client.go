package api

import (
	"context"
	stderrors "errors"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dl-alexandre/drivesync/internal/errors"
	"github.com/dl-alexandre/drivesync/internal/logging"
	"github.com/dl-alexandre/drivesync/internal/types"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"github.com/dl-alexandre/drivesync/pkg/version"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// CredentialProvider supplies access tokens. The client never runs an OAuth
// flow itself; it only asks for the current token, asks for one refresh
// after a 401, and reports when credentials are definitively rejected.
type CredentialProvider interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
	OnAuthFailure()
}

// ClientOptions tunes retry behavior. Zero values take the defaults.
type ClientOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	UploadBase  string
	Clock       clockwork.Clock
	Logger      logging.Logger
}

// Client wraps the Drive API with retry logic and credential refresh
type Client struct {
	service        *drive.Service
	httpClient     *http.Client
	creds          CredentialProvider
	resourceKeyMgr *ResourceKeyManager
	uploadBase     string
	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	clock          clockwork.Clock
	logger         logging.Logger
}

// NewClient creates a new Drive API client
func NewClient(service *drive.Service, httpClient *http.Client, creds CredentialProvider, opts ClientOptions) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = utils.DefaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Duration(utils.DefaultRetryDelayMs) * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = time.Duration(utils.MaxRetryDelayMs) * time.Millisecond
	}
	if opts.UploadBase == "" {
		opts.UploadBase = utils.DriveUploadBase
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		service:        service,
		httpClient:     httpClient,
		creds:          creds,
		resourceKeyMgr: NewResourceKeyManager(opts.Clock),
		uploadBase:     opts.UploadBase,
		maxAttempts:    opts.MaxAttempts,
		baseDelay:      opts.BaseDelay,
		maxDelay:       opts.MaxDelay,
		clock:          opts.Clock,
		logger:         opts.Logger,
	}
}

// NewDriveService builds a Drive service on top of an authenticated HTTP
// client. An empty endpoint keeps the production API.
func NewDriveService(ctx context.Context, httpClient *http.Client, endpoint string) (*drive.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	svc.UserAgent = version.Get().UserAgent()
	return svc, nil
}

// NewRequestContext creates a new request context with trace ID
func NewRequestContext(requestType types.RequestType) *types.RequestContext {
	return &types.RequestContext{
		RequestType: requestType,
		TraceID:     uuid.New().String(),
	}
}

// ExecuteWithRetry runs fn until it succeeds, fails permanently or runs out
// of attempts. Rate-limit and transient server errors back off
// exponentially with jitter. A 401 triggers one credential refresh, which
// does not consume an attempt; a second 401 is an AuthError.
func ExecuteWithRetry[T any](ctx context.Context, client *Client, reqCtx *types.RequestContext, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	logger := client.logger.WithTraceID(reqCtx.TraceID)
	start := client.clock.Now()
	refreshed := false

	for attempt := 1; ; {
		result, lastErr = fn()
		if lastErr == nil {
			logger.Debug("API operation completed",
				logging.F("requestType", reqCtx.RequestType),
				logging.F("duration_ms", client.clock.Since(start).Milliseconds()),
				logging.F("attempts", attempt),
			)
			return result, nil
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if errors.IsAuthError(lastErr) {
			client.authFailed()
			return result, lastErr
		}

		if errors.IsUnauthorized(lastErr) {
			if refreshed || client.creds == nil {
				client.authFailed()
				return result, &errors.AuthError{Err: classifyError(lastErr, reqCtx, client.logger)}
			}
			refreshed = true
			logger.Info("Access token rejected, refreshing credentials")
			if _, err := client.creds.Refresh(ctx); err != nil {
				client.authFailed()
				return result, &errors.AuthError{Err: err}
			}
			continue
		}

		if !isRetryable(lastErr) {
			logger.Debug("API operation failed (non-retryable)",
				logging.F("error", lastErr.Error()),
				logging.F("attempts", attempt),
			)
			return result, classifyError(lastErr, reqCtx, client.logger)
		}

		if attempt >= client.maxAttempts {
			logger.Error("API operation failed after max attempts",
				logging.F("duration_ms", client.clock.Since(start).Milliseconds()),
				logging.F("attempts", attempt),
				logging.F("error", lastErr.Error()),
			)
			classified := classifyError(lastErr, reqCtx, client.logger)
			if errors.IsRateLimitStatus(lastErr) {
				return result, &errors.RateLimitError{Attempts: attempt, Err: classified}
			}
			return result, classified
		}

		delay := client.backoff(attempt-1, lastErr)
		logger.Warn("API operation failed (retryable)",
			logging.F("attempt", attempt),
			logging.F("delay_ms", delay.Milliseconds()),
			logging.F("error", lastErr.Error()),
		)
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-client.clock.After(delay):
		}
		attempt++
	}
}

func (c *Client) authFailed() {
	if c.creds != nil {
		c.creds.OnAuthFailure()
	}
}

// isRetryable checks if an error is retryable
func isRetryable(err error) bool {
	if _, ok := err.(*googleapi.Error); ok {
		return errors.IsRetryableStatus(err)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return stderrors.As(err, &urlErr)
}

// backoff returns the delay before retry number attempt+1: base·2^attempt
// plus up to a quarter of that in jitter, capped at the maximum. A
// Retry-After header raises the delay but never past the cap. Without the
// header the delay never decreases as attempt grows.
func (c *Client) backoff(attempt int, err error) time.Duration {
	delay := c.maxDelay
	if attempt < 32 {
		if exp := c.baseDelay << uint(attempt); exp > 0 && exp < c.maxDelay {
			delay = exp
			if jitterRange := int64(exp / 4); jitterRange > 0 {
				delay += time.Duration(rand.Int63n(jitterRange))
			}
		}
	}

	if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Header != nil {
		if seconds, convErr := strconv.Atoi(apiErr.Header.Get("Retry-After")); convErr == nil && seconds > 0 {
			if retryAfter := time.Duration(seconds) * time.Second; retryAfter > delay {
				delay = retryAfter
			}
		}
	}

	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	return delay
}

// classifyError converts API errors to CLI errors
func classifyError(err error, reqCtx *types.RequestContext, logger logging.Logger) error {
	return errors.ClassifyGoogleAPIError("drive", err, reqCtx, logger)
}

// Service returns the underlying Drive service
func (c *Client) Service() *drive.Service {
	return c.service
}

// HTTPClient returns the authenticated HTTP client used for raw upload and
// download requests
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// UploadBase returns the base URL of the upload endpoint
func (c *Client) UploadBase() string {
	return c.uploadBase
}

// ResourceKeys returns the resource key manager
func (c *Client) ResourceKeys() *ResourceKeyManager {
	return c.resourceKeyMgr
}

// Logger returns the client logger
func (c *Client) Logger() logging.Logger {
	return c.logger
}
