package store

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/yaananth/chatmock/internal/json"
)

// ManifestFileName is the name of the manifest tracking which files in the
// auth directory are mirrored to the remote store.
const ManifestFileName = ".chatmock-manifest.json"

// SyncManifest records the sync state of the auth directory. Files marked
// FromRemote are deleted locally when they disappear from the remote;
// local-only files (a fresh auth.json from a login on this machine) are
// never touched by a sync pass.
type SyncManifest struct {
	// LastSync is the timestamp of the last successful sync pass.
	LastSync time.Time `json:"last_sync"`
	// ManagedFiles maps relative filenames to their sync metadata.
	ManagedFiles map[string]FileInfo `json:"managed_files"`
}

// FileInfo is the per-file sync metadata.
type FileInfo struct {
	// Checksum is a truncated SHA-256 of the file content, used for
	// change detection between passes.
	Checksum string `json:"checksum"`
	// ModifiedAt is when the file was last written by a sync.
	ModifiedAt time.Time `json:"modified_at"`
	// FromRemote marks files that originated on the remote store.
	FromRemote bool `json:"from_remote"`
}

// LoadManifest reads the manifest from dir. A missing or corrupt manifest
// yields an empty one, which treats every local file as local-only.
func LoadManifest(dir string) (*SyncManifest, error) {
	path := filepath.Join(dir, ManifestFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &SyncManifest{ManagedFiles: make(map[string]FileInfo)}, nil
	}
	if err != nil {
		return nil, err
	}
	var m SyncManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return &SyncManifest{ManagedFiles: make(map[string]FileInfo)}, nil
	}
	if m.ManagedFiles == nil {
		m.ManagedFiles = make(map[string]FileInfo)
	}
	return &m, nil
}

// Save persists the manifest into dir.
func (m *SyncManifest) Save(dir string) error {
	if m == nil {
		return nil
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(filepath.Join(dir, ManifestFileName), data, 0o600)
}

// MarkFile records a file in the manifest with its checksum and origin.
func (m *SyncManifest) MarkFile(filename string, content []byte, fromRemote bool) {
	if m == nil || m.ManagedFiles == nil {
		return
	}
	m.ManagedFiles[filename] = FileInfo{
		Checksum:   ComputeChecksum(content),
		ModifiedAt: time.Now(),
		FromRemote: fromRemote,
	}
}

// RemoveFile drops a file entry from the manifest.
func (m *SyncManifest) RemoveFile(filename string) {
	if m == nil || m.ManagedFiles == nil {
		return
	}
	delete(m.ManagedFiles, filename)
}

// IsFromRemote reports whether filename was synced down from the remote.
func (m *SyncManifest) IsFromRemote(filename string) bool {
	if m == nil || m.ManagedFiles == nil {
		return false
	}
	info, exists := m.ManagedFiles[filename]
	return exists && info.FromRemote
}

// Changed reports whether content differs from the manifest's recorded
// checksum for filename. Unknown files always count as changed.
func (m *SyncManifest) Changed(filename string, content []byte) bool {
	if m == nil || m.ManagedFiles == nil {
		return true
	}
	info, exists := m.ManagedFiles[filename]
	if !exists {
		return true
	}
	return info.Checksum != ComputeChecksum(content)
}

// GetOrphanedFiles lists files that were synced from the remote earlier but
// are absent from currentRemoteFiles now.
func (m *SyncManifest) GetOrphanedFiles(currentRemoteFiles map[string]bool) []string {
	if m == nil || m.ManagedFiles == nil {
		return nil
	}
	var orphaned []string
	for filename, info := range m.ManagedFiles {
		if info.FromRemote && !currentRemoteFiles[filename] {
			orphaned = append(orphaned, filename)
		}
	}
	return orphaned
}

// ComputeChecksum returns the first 16 hex characters of SHA-256(data),
// enough for change detection.
func ComputeChecksum(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:8])
}

// IsManifestFile reports whether path names the manifest itself.
func IsManifestFile(path string) bool {
	return filepath.Base(path) == ManifestFileName
}
