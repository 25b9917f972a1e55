package blobstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// AzureBlob stores objects as block blobs in one container.
type AzureBlob struct {
	client    *azblob.Client
	container string
}

func NewAzureBlob(connectionString, container string) (*AzureBlob, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("azblob: connection string is required")
	}
	if container == "" {
		return nil, fmt.Errorf("azblob: container is required")
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create azblob client: %w", err)
	}
	return &AzureBlob{client: client, container: container}, nil
}

func (a *AzureBlob) Name() string { return "azblob" }

func (a *AzureBlob) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	ct := contentType
	_, err := a.client.UploadBuffer(ctx, a.container, key, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &ct},
	})
	if err != nil {
		return "", fmt.Errorf("azblob upload %s: %w", key, err)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(a.client.URL(), "/"), a.container, key), nil
}
