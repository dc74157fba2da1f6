package updater

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/smazurov/streamgrab/internal/logging"
	"github.com/smazurov/streamgrab/internal/version"
)

// releaseSource is the part of *selfupdate.Updater the service uses.
type releaseSource interface {
	DetectLatest(ctx context.Context, repository selfupdate.Repository) (*selfupdate.Release, bool, error)
	UpdateTo(ctx context.Context, rel *selfupdate.Release, cmdPath string) error
}

// Service checks for, applies and rolls back binary updates.
type Service struct {
	repository    selfupdate.Repository
	source        releaseSource
	backupManager *backupManager
	executable    string

	mu            sync.RWMutex
	state         State
	latestRelease *selfupdate.Release
	lastChecked   *time.Time
	lastError     error

	enabled        bool
	disabledReason string

	logger *slog.Logger
}

// NewService creates an updater backed by GitHub releases. When the
// executable's directory is not writable the service is returned disabled;
// every operation then fails with ErrCodeDisabled.
func NewService(opts Options) (*Service, error) {
	logger := logging.GetLogger("updater")

	exe := opts.Executable
	if exe == "" {
		var err error
		if exe, err = selfupdate.ExecutablePath(); err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
	}

	if canWrite, reason := checkWritePermission(exe); !canWrite {
		logger.Warn("Update service disabled", "reason", reason)
		return &Service{
			executable:     exe,
			enabled:        false,
			disabledReason: reason,
			state:          StateIdle,
			logger:         logger,
		}, nil
	}

	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub source: %w", err)
	}
	updater, err := selfupdate.NewUpdater(selfupdate.Config{
		Source:     source,
		Prerelease: opts.Prerelease,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create updater: %w", err)
	}

	opts.Executable = exe
	return newService(opts, updater, logger)
}

func newService(opts Options, source releaseSource, logger *slog.Logger) (*Service, error) {
	repo := opts.Repository
	if repo == "" {
		repo = DefaultRepository
	}

	backupDir := opts.BackupDir
	if backupDir == "" {
		var err error
		if backupDir, err = defaultBackupDir(); err != nil {
			return nil, err
		}
	}

	svc := &Service{
		repository: selfupdate.ParseSlug(repo),
		source:     source,
		executable: opts.Executable,
		state:      StateIdle,
		enabled:    true,
		logger:     logger,
	}

	// Updates still work without a backup, only rollback is lost.
	backupMgr, err := newBackupManager(backupDir, logger)
	if err != nil {
		logger.Warn("Failed to create backup manager", "error", err)
	} else {
		svc.backupManager = backupMgr
	}
	return svc, nil
}

func checkWritePermission(exe string) (bool, string) {
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return false, fmt.Sprintf("failed to resolve symlinks: %v", err)
	}

	dir := filepath.Dir(resolved)
	f, err := os.CreateTemp(dir, ".streamgrab.update.*")
	if err != nil {
		return false, fmt.Sprintf("no write permission to %s: %v", dir, err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true, ""
}

// IsEnabled returns whether the update service is operational.
func (s *Service) IsEnabled() bool {
	return s.enabled
}

// DisabledReason returns why the service is disabled, empty if enabled.
func (s *Service) DisabledReason() string {
	return s.disabledReason
}

// CheckForUpdate queries GitHub for the latest release and compares
// it against the current version. Nothing is downloaded.
func (s *Service) CheckForUpdate(ctx context.Context) (*UpdateInfo, error) {
	if !s.enabled {
		return nil, newError(ErrCodeDisabled, s.disabledReason, nil)
	}
	if !s.transitionTo(StateChecking, StateIdle, StateAvailable, StateError) {
		return nil, newError(ErrCodeInvalidState,
			fmt.Sprintf("cannot check for updates in state %s", s.getState()), nil)
	}

	currentVersion := version.Version

	release, found, err := s.source.DetectLatest(ctx, s.repository)
	now := time.Now()
	s.mu.Lock()
	s.lastChecked = &now
	s.mu.Unlock()

	if err != nil {
		s.setError(err)
		return nil, newError(ErrCodeCheckFailed, "failed to check for updates", err)
	}
	if !found {
		err := fmt.Errorf("repository not found or has no releases")
		s.setError(err)
		return nil, newError(ErrCodeNotFound, err.Error(), nil)
	}

	// dev builds are always considered outdated
	if currentVersion != "dev" && !release.GreaterThan(currentVersion) {
		s.transitionTo(StateIdle)
		return &UpdateInfo{
			CurrentVersion: currentVersion,
			LatestVersion:  release.Version(),
		}, nil
	}

	s.mu.Lock()
	s.latestRelease = release
	s.mu.Unlock()
	s.transitionTo(StateAvailable)

	return &UpdateInfo{
		CurrentVersion:  currentVersion,
		LatestVersion:   release.Version(),
		ReleaseNotes:    release.ReleaseNotes,
		ReleaseURL:      release.URL,
		PublishedAt:     release.PublishedAt,
		AssetSize:       release.AssetByteSize,
		UpdateAvailable: true,
	}, nil
}

// ApplyUpdate replaces the executable with the latest release, checking
// first when no release has been found yet. The current binary is backed
// up beforehand and restored automatically if the replacement fails.
func (s *Service) ApplyUpdate(ctx context.Context) error {
	if !s.enabled {
		return newError(ErrCodeDisabled, s.disabledReason, nil)
	}

	if s.getState() != StateAvailable {
		info, err := s.CheckForUpdate(ctx)
		if err != nil {
			return err
		}
		if !info.UpdateAvailable {
			return newError(ErrCodeNoUpdate, "already at the latest version "+info.LatestVersion, nil)
		}
	}

	if !s.transitionTo(StateApplying, StateAvailable) {
		return newError(ErrCodeInvalidState,
			fmt.Sprintf("cannot apply update in state %s", s.getState()), nil)
	}

	if s.backupManager != nil {
		if err := s.backupManager.createBackup(s.executable, version.Version); err != nil {
			s.setError(err)
			return newError(ErrCodeBackupFailed, "failed to create backup", err)
		}
	}

	s.mu.RLock()
	release := s.latestRelease
	s.mu.RUnlock()

	if err := s.source.UpdateTo(ctx, release, s.executable); err != nil {
		s.setError(err)
		s.attemptRollback()
		return newError(ErrCodeApplyFailed, "failed to apply update", err)
	}

	s.transitionTo(StateApplied)
	s.logger.Info("Update applied", "version", release.Version(), "path", s.executable)
	return nil
}

// Rollback restores the previously backed up binary.
func (s *Service) Rollback(_ context.Context) error {
	if !s.enabled {
		return newError(ErrCodeDisabled, s.disabledReason, nil)
	}
	if s.backupManager == nil || !s.backupManager.hasBackup() {
		return newError(ErrCodeNoBackup, "no backup available for rollback", nil)
	}
	if err := s.backupManager.restore(); err != nil {
		s.setError(err)
		return newError(ErrCodeRollbackFailed, "failed to restore backup", err)
	}

	s.transitionTo(StateRolledBack)
	return nil
}

// GetStatus returns the current update state, the last error and backup
// availability.
func (s *Service) GetStatus() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := &Status{
		State:          s.state,
		CurrentVersion: version.Version,
		LastChecked:    s.lastChecked,
	}
	if s.latestRelease != nil {
		status.TargetVersion = s.latestRelease.Version()
	}
	if s.lastError != nil {
		status.Error = s.lastError.Error()
	}
	if s.backupManager != nil {
		status.BackupAvailable = s.backupManager.hasBackup()
		status.BackupVersion = s.backupManager.backupVersion()
	}
	return status
}

func (s *Service) transitionTo(newState State, validFromStates ...State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(validFromStates) > 0 && !slices.Contains(validFromStates, s.state) {
		return false
	}

	s.logger.Debug("State transition", "from", s.state, "to", newState)
	s.state = newState
	s.lastError = nil
	return true
}

func (s *Service) getState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Service) setError(err error) {
	s.mu.Lock()
	s.lastError = err
	s.state = StateError
	s.mu.Unlock()
}

func (s *Service) attemptRollback() {
	if s.backupManager == nil || !s.backupManager.hasBackup() {
		s.logger.Error("No backup available for automatic rollback")
		return
	}
	if err := s.backupManager.restore(); err != nil {
		s.logger.Error("Failed to restore backup", "error", err)
		return
	}

	// Keep the apply error visible in the status.
	s.mu.Lock()
	s.state = StateRolledBack
	s.mu.Unlock()
	s.logger.Info("Automatic rollback completed")
}
