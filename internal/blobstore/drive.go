package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Drive stores objects as files in a single Google Drive folder. Drive has
// no hierarchy of keys, so the key is flattened into the file name.
type Drive struct {
	service  *drive.Service
	folderID string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewDrive(ctx context.Context, credPath, folderID string) (*Drive, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &Drive{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}, nil
}

func (d *Drive) Name() string { return "gdrive" }

func driveFileName(key string) string {
	return strings.ReplaceAll(strings.Trim(key, "/"), "/", "__")
}

func (d *Drive) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	name := driveFileName(key)
	media := googleapi.ContentType(contentType)

	fileID, ok := d.fileIDs[key]
	if !ok {
		id, err := d.lookup(ctx, name)
		if err != nil {
			return "", err
		}
		fileID, ok = id, id != ""
	}

	if ok {
		_, err := d.service.Files.Update(fileID, &drive.File{}).Media(bytes.NewReader(data), media).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("drive update: %w", err)
		}
		d.fileIDs[key] = fileID
		return "gdrive://" + fileID, nil
	}

	file, err := d.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: contentType,
		Parents:  []string{d.folderID},
	}).Media(bytes.NewReader(data), media).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive create: %w", err)
	}

	d.fileIDs[key] = file.Id
	return "gdrive://" + file.Id, nil
}

// lookup finds a file uploaded by an earlier process so a restart still
// overwrites instead of duplicating.
func (d *Drive) lookup(ctx context.Context, name string) (string, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		strings.ReplaceAll(name, "'", `\'`), d.folderID)
	list, err := d.service.Files.List().Q(q).Fields("files(id)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive lookup: %w", err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}
