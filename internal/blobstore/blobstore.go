// Package blobstore writes finished recordings to durable object storage.
package blobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/sjawhar/interview-live/internal/config"
)

// Store persists blobs under hierarchical keys. Put overwrites any existing
// object with the same key and returns where the object now lives.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Name() string
}

var ErrEmptyKey = errors.New("blobstore: empty object key")

// New builds the store selected by cfg.Storage.Backend.
func New(ctx context.Context, cfg config.Config) (Store, error) {
	s := cfg.Storage
	switch s.Backend {
	case config.StorageLocal, "":
		return NewLocal(cfg.RecordingsDir), nil
	case config.StorageGDrive:
		return NewDrive(ctx, s.GoogleCredentialsFile, s.GDriveFolderID)
	case config.StorageGCS:
		return NewGCS(ctx, s.Bucket, s.GoogleCredentialsFile)
	case config.StorageS3:
		return NewS3(ctx, s.Bucket, s.Region, s.BaseURL)
	case config.StorageAzure:
		return NewAzureBlob(cfg.AzureConnectionString, s.Bucket)
	case config.StorageREST:
		return NewREST(s.BaseURL, s.Bucket, cfg.StorageToken), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", s.Backend)
	}
}
