package factory

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/photo-flow-go/internal/config"
	"github.com/anime-shed/photo-flow-go/internal/logger"
	"github.com/anime-shed/photo-flow-go/internal/storage"
	"github.com/anime-shed/photo-flow-go/internal/strategy"
	"github.com/anime-shed/photo-flow-go/pkg/validation"
)

// StorageType represents different remote storage backends
type StorageType string

const (
	// CloudinaryStorage posts to the unsigned upload endpoint
	CloudinaryStorage StorageType = config.BackendCloudinary
	// AzureStorage writes to a blob container
	AzureStorage StorageType = config.BackendAzure
	// NoStorage keeps images local to the session
	NoStorage StorageType = config.BackendNone
)

// StorageFactory creates uploaders
type StorageFactory interface {
	CreateUploader(storageType StorageType) (storage.Uploader, error)
}

// GeneratorFactory creates result generators
type GeneratorFactory interface {
	CreateGenerator() strategy.ResultGenerator
}

// storageFactory implements StorageFactory
type storageFactory struct {
	cfg *config.Config
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(cfg *config.Config) StorageFactory {
	return &storageFactory{cfg: cfg}
}

// CreateUploader builds the uploader for a backend. Missing credentials are not
// fatal: the flow runs with a disabled uploader and the upload is skipped.
func (f *storageFactory) CreateUploader(storageType StorageType) (storage.Uploader, error) {
	switch storageType {
	case CloudinaryStorage:
		cc := storage.CloudinaryConfig{
			CloudName:    f.cfg.Cloudinary.CloudName,
			UploadPreset: f.cfg.Cloudinary.UploadPreset,
			Folder:       f.cfg.Cloudinary.Folder,
			BaseURL:      f.cfg.Cloudinary.BaseURL,
			Timeout:      f.cfg.Flow.UploadTimeout,
			Validator:    validation.NewImageValidatorWithLimit(f.cfg.Flow.MaxImageSize),
		}
		if !cc.Configured() {
			return disabled("cloudinary cloud name or upload preset missing"), nil
		}
		if cc.BaseURL != "" {
			if err := validation.NewURLValidator().Validate(cc.BaseURL); err != nil {
				return nil, fmt.Errorf("invalid CLOUDINARY_BASE_URL: %w", err)
			}
		}
		return f.withRetry(storage.NewCloudinaryUploader(cc)), nil
	case AzureStorage:
		uploader, err := storage.NewAzureUploader(storage.AzureConfig{
			AccountName: f.cfg.Azure.AccountName,
			AccountKey:  f.cfg.Azure.AccountKey,
			Container:   f.cfg.Azure.Container,
			Folder:      f.cfg.Azure.Folder,
		})
		if errors.Is(err, storage.ErrNotConfigured) {
			return disabled("azure account, key or container missing"), nil
		}
		if err != nil {
			return nil, err
		}
		// azblob carries its own retry policy
		return uploader, nil
	case NoStorage:
		return storage.NewDisabledUploader("remote storage disabled"), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// withRetry wraps uploaders that make a single attempt per call
func (f *storageFactory) withRetry(u storage.Uploader) storage.Uploader {
	if f.cfg.Flow.UploadAttempts <= 1 {
		return u
	}
	return storage.NewRetryingUploader(u, f.cfg.Flow.UploadAttempts, f.cfg.Flow.UploadRetryDelay)
}

func disabled(reason string) storage.Uploader {
	logger.WithFields(logrus.Fields{"reason": reason}).Warn("Remote storage not configured, uploads will be skipped")
	return storage.NewDisabledUploader(reason)
}

// generatorFactory implements GeneratorFactory
type generatorFactory struct {
	cfg config.FlowConfig
}

// NewGeneratorFactory creates a new generator factory
func NewGeneratorFactory(cfg config.FlowConfig) GeneratorFactory {
	return &generatorFactory{cfg: cfg}
}

func (f *generatorFactory) CreateGenerator() strategy.ResultGenerator {
	return strategy.NewResultGenerator(f.cfg.ResultStrategy, f.cfg.FixedPercentage)
}

// ComponentFactory combines all factories
type ComponentFactory struct {
	StorageFactory   StorageFactory
	GeneratorFactory GeneratorFactory
}

// NewComponentFactory creates a new component factory
func NewComponentFactory(cfg *config.Config) *ComponentFactory {
	return &ComponentFactory{
		StorageFactory:   NewStorageFactory(cfg),
		GeneratorFactory: NewGeneratorFactory(cfg.Flow),
	}
}
