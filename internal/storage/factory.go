package storage

import (
	"context"
	"fmt"

	"backup-orchestrator/internal/backup"
)

// Factory creates storage providers based on configuration.
type Factory struct{}

// NewFactory creates a storage provider factory.
func NewFactory() *Factory {
	return &Factory{}
}

// CreateProvider creates a provider for the configured disk.
func (f *Factory) CreateProvider(ctx context.Context, config Config) (Provider, error) {
	switch config.Disk {
	case "local", "":
		return NewLocalProvider(config.Local)

	case "s3":
		return NewS3Provider(config.S3)

	case "gcs":
		return NewGCSProvider(ctx, config.GCS)

	case "azure":
		return NewAzureProvider(config.Azure)

	default:
		return nil, backup.NewValidationError(fmt.Sprintf("unsupported storage disk: %s", config.Disk), nil)
	}
}

// SupportedDisks returns the disk names this factory can create.
func (f *Factory) SupportedDisks() []string {
	return []string{"local", "s3", "gcs", "azure"}
}

// Registry resolves disk names to configured providers. Backup records carry
// a disk name, so restores and deletes must be able to reach the disk the
// artifact was written to even after the default changes.
type Registry struct {
	providers map[string]Provider
	def       string
}

// NewRegistry builds a registry from disk configurations. The first config is
// the default disk.
func NewRegistry(ctx context.Context, configs []Config) (*Registry, error) {
	if len(configs) == 0 {
		return nil, backup.NewValidationError("at least one storage disk is required", nil)
	}

	factory := NewFactory()
	providers := make([]Provider, 0, len(configs))
	for _, config := range configs {
		provider, err := factory.CreateProvider(ctx, config)
		if err != nil {
			return nil, backup.NewConfigurationError(fmt.Sprintf("failed to configure disk %s", config.Disk), err)
		}
		providers = append(providers, provider)
	}
	return NewRegistryFromProviders(providers...)
}

// NewRegistryFromProviders builds a registry from pre-built providers, for
// callers supplying their own backend implementations. The first provider is
// the default disk.
func NewRegistryFromProviders(providers ...Provider) (*Registry, error) {
	if len(providers) == 0 {
		return nil, backup.NewValidationError("at least one storage disk is required", nil)
	}

	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, provider := range providers {
		name := provider.Name()
		if _, exists := r.providers[name]; exists {
			return nil, backup.NewConfigurationError(fmt.Sprintf("duplicate storage disk: %s", name), nil)
		}
		r.providers[name] = provider
		if r.def == "" {
			r.def = name
		}
	}
	return r, nil
}

// Disk returns the provider for a disk name, or the default for "".
func (r *Registry) Disk(name string) (Provider, error) {
	if name == "" {
		name = r.def
	}
	provider, ok := r.providers[name]
	if !ok {
		return nil, backup.NewConfigurationError(fmt.Sprintf("storage disk %s is not configured", name), nil)
	}
	return provider, nil
}

// DefaultDisk returns the default disk name.
func (r *Registry) DefaultDisk() string {
	return r.def
}

// Disks returns the configured disk names.
func (r *Registry) Disks() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// HealthCheck runs health checks on every configured disk.
func (r *Registry) HealthCheck(ctx context.Context) map[string]error {
	results := make(map[string]error, len(r.providers))
	for name, provider := range r.providers {
		results[name] = provider.HealthCheck(ctx)
	}
	return results
}
