package cli

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dl-alexandre/drivesync/internal/api"
	"github.com/dl-alexandre/drivesync/internal/auth"
	"github.com/dl-alexandre/drivesync/internal/config"
	"github.com/dl-alexandre/drivesync/internal/errors"
	"github.com/dl-alexandre/drivesync/internal/localfs"
	"github.com/dl-alexandre/drivesync/internal/logging"
	"github.com/dl-alexandre/drivesync/internal/netstate"
	"github.com/dl-alexandre/drivesync/internal/remote"
	syncengine "github.com/dl-alexandre/drivesync/internal/sync"
	"github.com/dl-alexandre/drivesync/internal/sync/conflict"
	"github.com/dl-alexandre/drivesync/internal/sync/diff"
	"github.com/dl-alexandre/drivesync/internal/sync/index"
	"github.com/dl-alexandre/drivesync/internal/types"
	"github.com/dl-alexandre/drivesync/internal/utils"
)

// session bundles everything a command needs to talk to the tracking store
// and Drive. Close releases the database.
type session struct {
	cfg    *config.Config
	db     *index.DB
	auth   *auth.Manager
	store  *remote.DriveStore
	engine *syncengine.Engine
	logger logging.Logger
}

// engineOverrides carries per-invocation flag values layered over the config.
type engineOverrides struct {
	concurrency int
	progress    func(pairID string, p types.SyncProgress)
}

func newAuthManager(cfg *config.Config, log logging.Logger) (*auth.Manager, error) {
	configDir, err := config.GetConfigDir()
	if err != nil {
		return nil, err
	}
	return auth.NewManager(configDir, auth.Options{
		Storage:      cfg.Auth.Storage,
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Logger:       log,
	})
}

func openIndex(cfg *config.Config) (*index.DB, error) {
	db, err := index.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open tracking store: %w", err)
	}
	return db, nil
}

// openSession opens the tracking store only. Commands that reach Drive call
// connect afterwards.
func openSession() (*session, error) {
	cfg := GetConfig()
	db, err := openIndex(cfg)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, db: db, logger: GetLogger()}, nil
}

// connect wires the credential store, the retrying Drive client and the sync
// engine on top of an open session.
func (s *session) connect(ctx context.Context, overrides engineOverrides) error {
	mgr, err := newAuthManager(s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.auth = mgr

	var base http.RoundTripper
	if globalFlags.Debug {
		base = &logging.DebugTransport{Logger: s.logger}
	}
	httpClient := api.NewHTTPClient(mgr, base)
	service, err := api.NewDriveService(ctx, httpClient, "")
	if err != nil {
		return fmt.Errorf("failed to create Drive service: %w", err)
	}
	client := api.NewClient(service, httpClient, mgr, api.ClientOptions{
		MaxAttempts: s.cfg.Retry.MaxAttempts,
		BaseDelay:   s.cfg.Retry.BaseDelay,
		MaxDelay:    s.cfg.Retry.MaxDelay,
		Logger:      s.logger,
	})
	s.store = remote.NewDriveStore(client, remote.Options{
		MultipartThreshold: s.cfg.Transfer.MultipartThreshold,
		ChunkSize:          s.cfg.Transfer.ChunkSize,
	})

	concurrency := s.cfg.Sync.Concurrency
	if overrides.concurrency > 0 {
		concurrency = overrides.concurrency
	}
	strategy, err := conflict.ParseStrategy(s.cfg.Sync.Strategy)
	if err != nil {
		return err
	}
	s.engine = syncengine.NewEngine(syncengine.Deps{
		DB:     s.db,
		Remote: s.store,
		FS:     localfs.NewOS(),
		Auth:   mgr,
		Network: netstate.NewMonitor(netstate.Options{
			ProbeAddress:      s.cfg.Network.ProbeAddress,
			Timeout:           s.cfg.Network.ProbeTimeout,
			MeteredInterfaces: s.cfg.Network.MeteredInterfaces,
			Logger:            s.logger,
		}),
		Logger: s.logger,
	}, syncengine.Options{
		Strategy:          strategy,
		Mode:              diff.Mode(s.cfg.Sync.Mode),
		NetworkPolicy:     s.cfg.Sync.NetworkPolicy,
		Concurrency:       concurrency,
		Tolerance:         s.cfg.Sync.TimeTolerance,
		DeletePermanently: s.cfg.Sync.DeletePermanently,
		Exclude:           s.cfg.Sync.Exclude,
		Progress:          overrides.progress,
	})
	return nil
}

func (s *session) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("Failed to close tracking store", logging.F("error", err.Error()))
	}
}

// pair loads a sync pair or returns a FILE_NOT_FOUND style error.
func (s *session) pair(ctx context.Context, id string) (*index.Pair, error) {
	pair, err := s.db.GetPair(ctx, id)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("Unknown sync pair: %s", id)).WithContext("pairId", id).Build())
	}
	return pair, nil
}

func toCLIError(err error) types.CLIError {
	return errors.ToAppError(err).CLIError
}

// parseRunOptions validates the strategy and mode flags shared by sync,
// status and daemon.
func parseRunOptions(strategy, mode string) (syncengine.RunOptions, error) {
	var opts syncengine.RunOptions
	if strategy != "" {
		s, err := conflict.ParseStrategy(strategy)
		if err != nil {
			return opts, invalidArgument(err.Error())
		}
		opts.Strategy = s
	}
	if mode != "" {
		m, err := parseMode(mode)
		if err != nil {
			return opts, err
		}
		opts.Mode = m
	}
	return opts, nil
}

func parseMode(mode string) (diff.Mode, error) {
	switch m := diff.Mode(mode); m {
	case diff.ModePush, diff.ModePull, diff.ModeBidirectional:
		return m, nil
	}
	return "", invalidArgument(fmt.Sprintf("invalid sync mode: %s (use push, pull or bidirectional)", mode))
}

func invalidArgument(msg string) error {
	return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, msg).Build())
}
