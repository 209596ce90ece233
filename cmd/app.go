package cmd

import (
	"context"
	"fmt"
	"os"

	"backup-orchestrator/internal/archive"
	"backup-orchestrator/internal/audit"
	"backup-orchestrator/internal/backup"
	"backup-orchestrator/internal/config"
	"backup-orchestrator/internal/dataset"
	"backup-orchestrator/internal/display"
	"backup-orchestrator/internal/lifecycle"
	"backup-orchestrator/internal/logging"
	"backup-orchestrator/internal/notify"
	"backup-orchestrator/internal/restore"
	"backup-orchestrator/internal/schedule"
	"backup-orchestrator/internal/scheduler"
	"backup-orchestrator/internal/storage"
	"backup-orchestrator/internal/store"
)

// entityData is the full contract both dataset implementations satisfy: the
// backup side reads categories, the restore side applies changes.
type entityData interface {
	lifecycle.DatasetSource
	restore.Dataset
}

// app wires the engine's services from the loaded configuration. One app is
// built per command invocation.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	store     store.Store
	ledger    *audit.Ledger
	disks     *storage.Registry
	data      entityData
	backups   *lifecycle.Manager
	settings  *lifecycle.SettingsService
	schedules *schedule.Service
	restores  *restore.Orchestrator
	runner    *scheduler.Runner
	notifier  *notify.Notifier
	render    *display.Renderer

	closers []func() error
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		render: display.NewRenderer(os.Stdout, display.NewColorSystem(display.DarkTheme(), !noColor)),
	}

	if err := a.buildPersistence(ctx, cfg); err != nil {
		return nil, err
	}

	a.disks, err = storage.NewRegistry(ctx, cfg.Storage)
	if err != nil {
		a.close()
		return nil, err
	}

	a.ledger = audit.NewLedger(a.store, logger)

	encryptor, err := buildEncryptor(cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	opts := []lifecycle.Option{
		lifecycle.WithCompression(cfg.Compression.Algorithm, cfg.Compression.Level),
	}
	if encryptor != nil {
		opts = append(opts, lifecycle.WithEncryption(encryptor, cfg.Encryption.KeyRef))
	}
	a.backups = lifecycle.NewManager(a.store, a.disks, a.data, a.ledger, logger, opts...)
	a.settings = lifecycle.NewSettingsService(a.store, a.ledger, encryptor, cfg.Encryption.KeyRef)
	a.schedules = schedule.NewService(a.store, a.ledger, logger)
	a.notifier = notify.NewNotifier(a.settings, cfg.SMTP, logger)

	open := func(ctx context.Context, orgID, backupID string) (restore.ArtifactReader, error) {
		reader, err := a.backups.OpenArtifact(ctx, orgID, backupID)
		if err != nil {
			return nil, err
		}
		return reader, nil
	}
	orgName := func(ctx context.Context, orgID string) (string, error) {
		return cfg.OrgName(orgID)
	}
	a.restores = restore.NewOrchestrator(a.store, a.data, open, orgName, a.ledger, logger)
	a.runner = scheduler.NewRunner(a.store, a.backups, a.schedules, a.ledger, logger, cfg.Scheduler.PollInterval)

	return a, nil
}

func (a *app) buildPersistence(ctx context.Context, cfg *config.Config) error {
	switch cfg.Database.Driver {
	case "mysql":
		st, err := store.OpenMySQL(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		a.store = st
		a.data = dataset.NewMySQLDataset(st.DB())
		a.closers = append(a.closers, st.Close)
	case "memory":
		a.store = store.NewMemoryStore()
		fileData, err := dataset.NewFileDataset(cfg.Dataset.BasePath)
		if err != nil {
			return err
		}
		a.data = fileData
	default:
		return backup.NewConfigurationError(
			fmt.Sprintf("unknown database driver %q", cfg.Database.Driver), nil)
	}
	return nil
}

func (a *app) close() {
	for _, closer := range a.closers {
		closer()
	}
}

func (a *app) actor() backup.Actor {
	return backup.Actor{UserID: actorUser}
}

// requireOrg rejects commands invoked without an organization.
func requireOrg() error {
	if orgID == "" {
		return fmt.Errorf("--org is required (or set BACKUP_ORCHESTRATOR_ORG)")
	}
	return nil
}

func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	level := logging.LogLevel(cfg.Logging.Level)
	if verbose {
		level = logging.LogLevelVerbose
	}
	if quiet {
		level = logging.LogLevelQuiet
	}
	return logging.NewLogger(logging.Config{
		Level:      level,
		Format:     cfg.Logging.Format,
		ShowCaller: cfg.Logging.ShowCaller,
		LogFile:    cfg.Logging.File,
	})
}

func buildEncryptor(cfg *config.Config) (*archive.Encryptor, error) {
	key, err := cfg.LoadKey()
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, nil
	}
	return archive.NewEncryptor(key)
}
