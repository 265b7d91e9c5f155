// Package auth stores the OAuth token used to reach Drive and serves it to
// the API client, refreshing it when it expires or is rejected.
package auth

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/dl-alexandre/drivesync/internal/errors"
	"github.com/dl-alexandre/drivesync/internal/logging"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	serviceName        = "drivesync"
	defaultAccount     = "default"
	tokenRefreshBuffer = 5 * time.Minute
)

// StoredToken is the persisted credential. ClientID and ClientSecret are
// only set when the imported file carried its own OAuth client.
type StoredToken struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
	Invalid      bool      `json:"invalid,omitempty"`
	ImportedAt   time.Time `json:"imported_at,omitempty"`
}

// Status describes the stored credential for display.
type Status struct {
	Authenticated bool      `json:"authenticated"`
	Invalid       bool      `json:"invalid"`
	CanRefresh    bool      `json:"canRefresh"`
	Expiry        time.Time `json:"expiry,omitempty"`
	Backend       string    `json:"backend"`
}

// Options configures the auth manager
type Options struct {
	// Storage is one of auto, keyring, encrypted-file or file
	Storage      string
	Account      string
	ClientID     string
	ClientSecret string
	// TokenURL overrides the Google token endpoint
	TokenURL string
	Clock    clockwork.Clock
	Logger   logging.Logger
}

// Manager implements api.CredentialProvider on top of a StorageBackend.
type Manager struct {
	mu             sync.Mutex
	storage        StorageBackend
	storageWarning string
	account        string
	clientID       string
	clientSecret   string
	tokenURL       string
	clock          clockwork.Clock
	logger         logging.Logger
	cached         *StoredToken
}

// NewManager picks a storage backend under configDir and creates a manager.
func NewManager(configDir string, opts Options) (*Manager, error) {
	var (
		storage StorageBackend
		warning string
	)
	switch opts.Storage {
	case "keyring":
		if !keyringAvailable(serviceName) {
			return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig,
				"system keyring is not available").Build())
		}
		storage = NewKeyringStorage(serviceName)
	case "encrypted-file":
		enc, err := NewEncryptedFileStorage(configDir)
		if err != nil {
			return nil, err
		}
		storage = enc
	case "file":
		storage = NewPlainFileStorage(configDir)
		warning = "WARNING: Using unencrypted file storage. Credentials are stored in plain text."
	case "", "auto":
		if keyringAvailable(serviceName) {
			storage = NewKeyringStorage(serviceName)
			break
		}
		enc, err := NewEncryptedFileStorage(configDir)
		if err != nil {
			storage = NewPlainFileStorage(configDir)
			warning = fmt.Sprintf("WARNING: Encryption setup failed (%v). Using plain file storage.", err)
			break
		}
		storage = enc
		warning = "INFO: System keyring not available. Using encrypted file storage."
	default:
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig,
			fmt.Sprintf("unknown auth storage: %s", opts.Storage)).Build())
	}

	m := NewManagerWithStorage(storage, opts)
	m.storageWarning = warning
	return m, nil
}

// NewManagerWithStorage creates a manager over an explicit backend.
func NewManagerWithStorage(storage StorageBackend, opts Options) *Manager {
	if opts.Account == "" {
		opts.Account = defaultAccount
	}
	if opts.TokenURL == "" {
		opts.TokenURL = google.Endpoint.TokenURL
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	return &Manager{
		storage:      storage,
		account:      opts.Account,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		tokenURL:     opts.TokenURL,
		clock:        opts.Clock,
		logger:       opts.Logger,
	}
}

// Import parses a token file and stores it. Both oauth2 token JSON and
// authorized_user credential files are accepted.
func (m *Manager) Import(data []byte) error {
	var tok StoredToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthInvalid,
			fmt.Sprintf("failed to parse token file: %v", err)).Build())
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthInvalid,
			"token file has neither an access token nor a refresh token").Build())
	}
	tok.Invalid = false
	tok.ImportedAt = m.clock.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.save(&tok); err != nil {
		return err
	}
	m.logger.Info("Credentials imported", logging.F("backend", m.storage.Name()))
	return nil
}

// AccessToken returns a usable access token, refreshing it first when it is
// missing or about to expire.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.load()
	if err != nil {
		return "", err
	}
	if tok.Invalid {
		return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthInvalid,
			"stored credentials were rejected; import a new token").Build())
	}
	if tok.AccessToken != "" && !m.expiring(tok) {
		return tok.AccessToken, nil
	}
	if tok.RefreshToken == "" {
		if tok.AccessToken != "" && tok.Expiry.IsZero() {
			return tok.AccessToken, nil
		}
		return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthExpired,
			"access token expired and no refresh token is stored").Build())
	}
	return m.refreshLocked(ctx, tok)
}

// Refresh exchanges the refresh token for a new access token.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.load()
	if err != nil {
		return "", err
	}
	if tok.RefreshToken == "" {
		return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthExpired,
			"no refresh token is stored").Build())
	}
	return m.refreshLocked(ctx, tok)
}

func (m *Manager) refreshLocked(ctx context.Context, tok *StoredToken) (string, error) {
	cfg := m.oauthConfig(tok)
	if cfg.ClientID == "" {
		return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig,
			"no OAuth client configured for token refresh (auth.client_id)").Build())
	}

	fresh, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	if err != nil {
		m.logger.Warn("Token refresh failed", logging.F("error", err.Error()))
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	updated := *tok
	updated.AccessToken = fresh.AccessToken
	updated.TokenType = fresh.TokenType
	updated.Expiry = fresh.Expiry
	if fresh.RefreshToken != "" {
		updated.RefreshToken = fresh.RefreshToken
	}
	updated.Invalid = false
	if err := m.save(&updated); err != nil {
		return "", err
	}
	m.logger.Debug("Access token refreshed", logging.F("expiry", updated.Expiry))
	return updated.AccessToken, nil
}

// OnAuthFailure marks the stored credential invalid so later runs fail their
// precondition check instead of retrying a rejected token.
func (m *Manager) OnAuthFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.load()
	if err != nil {
		return
	}
	if tok.Invalid {
		return
	}
	invalid := *tok
	invalid.Invalid = true
	if err := m.save(&invalid); err != nil {
		m.logger.Error("Failed to mark credentials invalid", logging.F("error", err.Error()))
		return
	}
	m.logger.Warn("Credentials marked invalid after repeated authorization failure")
}

// IsAuthenticated reports whether a usable credential is stored.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.load()
	if err != nil {
		return false
	}
	return !tok.Invalid && (tok.AccessToken != "" || tok.RefreshToken != "")
}

// Status describes the stored credential.
func (m *Manager) Status() (*Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := &Status{Backend: m.storage.Name()}
	tok, err := m.load()
	if err != nil {
		if errors.HasCode(err, utils.ErrCodeAuthRequired) {
			return status, nil
		}
		return nil, err
	}
	status.Invalid = tok.Invalid
	status.CanRefresh = tok.RefreshToken != ""
	status.Expiry = tok.Expiry
	status.Authenticated = !tok.Invalid && (tok.AccessToken != "" || tok.RefreshToken != "")
	return status, nil
}

// Logout removes the stored credential.
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cached = nil
	return m.storage.Delete(m.account)
}

// StorageBackend returns the name of the storage backend being used
func (m *Manager) StorageBackend() string {
	return m.storage.Name()
}

// StorageWarning returns any warning message about the storage backend
func (m *Manager) StorageWarning() string {
	return m.storageWarning
}

func (m *Manager) expiring(tok *StoredToken) bool {
	if tok.Expiry.IsZero() {
		return false
	}
	return m.clock.Now().Add(tokenRefreshBuffer).After(tok.Expiry)
}

func (m *Manager) oauthConfig(tok *StoredToken) *oauth2.Config {
	cfg := &oauth2.Config{
		ClientID:     m.clientID,
		ClientSecret: m.clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   google.Endpoint.AuthURL,
			TokenURL:  m.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{utils.ScopeFull},
	}
	if tok.ClientID != "" {
		cfg.ClientID = tok.ClientID
		cfg.ClientSecret = tok.ClientSecret
	}
	return cfg
}

func (m *Manager) load() (*StoredToken, error) {
	if m.cached != nil {
		return m.cached, nil
	}
	data, err := m.storage.Load(m.account)
	if err != nil {
		if stderrors.Is(err, ErrNoCredentials) {
			return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
				"No credentials found. Run 'drivesync auth import <token.json>' first.").Build())
		}
		return nil, err
	}
	var tok StoredToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to parse stored credentials: %w", err)
	}
	m.cached = &tok
	return m.cached, nil
}

func (m *Manager) save(tok *StoredToken) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := m.storage.Save(m.account, data); err != nil {
		return err
	}
	m.cached = tok
	return nil
}
