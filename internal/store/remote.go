package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"

	"github.com/yaananth/chatmock/internal/config"
	"github.com/yaananth/chatmock/internal/util"
)

// RemoteStore mirrors top-level JSON state files from the auth directory
// (auth.json, usage_limits.json) into an S3-compatible bucket so several
// gateway hosts can share one login.
type RemoteStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewRemoteStore builds a client from the remote-store config section.
// Returns nil without error when no endpoint is configured.
func NewRemoteStore(cfg config.RemoteStoreConfig) (*RemoteStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, nil
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("remote store: bucket is required when an endpoint is set")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("remote store: %w", err)
	}
	prefix := strings.Trim(strings.TrimSpace(cfg.Prefix), "/")
	return &RemoteStore{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (r *RemoteStore) objectKey(filename string) string {
	name := util.SanitizeFilePart(filename)
	if r.prefix == "" {
		return name
	}
	return r.prefix + "/" + name
}

func (r *RemoteStore) filenameFromKey(key string) string {
	if r.prefix != "" {
		key = strings.TrimPrefix(key, r.prefix+"/")
	}
	return key
}

// syncable reports whether a local file participates in remote sync.
// Only top-level JSON state files are mirrored; the manifest itself,
// cached prompts and databases stay local.
func syncable(name string) bool {
	if name == ManifestFileName {
		return false
	}
	return strings.HasSuffix(name, ".json")
}

// SyncUp pushes changed local state files to the bucket.
func (r *RemoteStore) SyncUp(ctx context.Context, dir string) error {
	if r == nil {
		return nil
	}
	manifest, err := LoadManifest(dir)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	uploaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !syncable(entry.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Warnf("remote store: read %s: %v", entry.Name(), err)
			continue
		}
		if !manifest.Changed(entry.Name(), data) {
			continue
		}
		key := r.objectKey(entry.Name())
		_, err = r.client.PutObject(ctx, r.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: "application/json",
		})
		if err != nil {
			return fmt.Errorf("remote store: upload %s: %w", key, err)
		}
		manifest.MarkFile(entry.Name(), data, false)
		uploaded++
	}
	if uploaded > 0 {
		manifest.LastSync = time.Now()
		if err := manifest.Save(dir); err != nil {
			return err
		}
		log.Debugf("remote store: uploaded %d file(s)", uploaded)
	}
	return nil
}

// SyncDown pulls remote state files into dir. Files the manifest marks as
// remote-origin are removed locally when they vanish from the bucket;
// local-only files are left alone.
func (r *RemoteStore) SyncDown(ctx context.Context, dir string) error {
	if r == nil {
		return nil
	}
	manifest, err := LoadManifest(dir)
	if err != nil {
		return err
	}
	listPrefix := ""
	if r.prefix != "" {
		listPrefix = r.prefix + "/"
	}
	remote := make(map[string]bool)
	for obj := range r.client.ListObjects(ctx, r.bucket, minio.ListObjectsOptions{Prefix: listPrefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("remote store: list: %w", obj.Err)
		}
		name := r.filenameFromKey(obj.Key)
		if !syncable(name) {
			continue
		}
		remote[name] = true
		data, err := r.download(ctx, obj.Key)
		if err != nil {
			return err
		}
		if !manifest.Changed(name, data) {
			continue
		}
		if err := WriteFileAtomic(filepath.Join(dir, name), data, 0o600); err != nil {
			return err
		}
		manifest.MarkFile(name, data, true)
		log.Debugf("remote store: downloaded %s", name)
	}
	for _, name := range manifest.GetOrphanedFiles(remote) {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			log.Warnf("remote store: remove orphan %s: %v", name, err)
			continue
		}
		manifest.RemoveFile(name)
		log.Debugf("remote store: removed orphan %s", name)
	}
	manifest.LastSync = time.Now()
	return manifest.Save(dir)
}

func (r *RemoteStore) download(ctx context.Context, key string) ([]byte, error) {
	obj, err := r.client.GetObject(ctx, r.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("remote store: get %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("remote store: %s disappeared during sync", key)
		}
		return nil, fmt.Errorf("remote store: read %s: %w", key, err)
	}
	return data, nil
}

// Run performs an initial down-sync and then pushes local changes every
// interval until ctx is cancelled.
func (r *RemoteStore) Run(ctx context.Context, dir string, interval time.Duration) {
	if r == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if err := r.SyncDown(ctx, dir); err != nil {
		log.Warnf("remote store: initial sync failed: %v", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.SyncUp(ctx, dir); err != nil {
				log.Warnf("remote store: sync failed: %v", err)
			}
		}
	}
}
