package entry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/joshp123/deyehome/internal/logging"
)

const (
	SchemaVersion = 1
	blobName      = "entries.json"
)

type storedEntry struct {
	ID       string            `json:"entry_id"`
	Domain   string            `json:"domain"`
	Title    string            `json:"title"`
	UniqueID string            `json:"unique_id"`
	Data     map[string]string `json:"data"`
}

type storeFile struct {
	SchemaVersion int           `json:"schema_version"`
	Entries       []storedEntry `json:"entries"`
}

// Store persists entries to a local JSON file and, when configured, mirrors
// them to a blob store. The local file wins on load.
type Store struct {
	path string
	blob BlobStore
	log  *logrus.Entry
}

func NewStore(path string, blob BlobStore, log *logrus.Entry) *Store {
	if log == nil {
		log = logging.Component(nil, "entry_store")
	}
	return &Store{path: path, blob: blob, log: log}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns persisted entries in state not_loaded.
func (s *Store) Load(ctx context.Context) ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
	case os.IsNotExist(err):
		data, err = s.restore(ctx)
		if err != nil {
			return nil, err
		}
		if data == nil {
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("read entries: %w", err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	if file.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported entries schema_version: %d", file.SchemaVersion)
	}

	out := make([]Entry, 0, len(file.Entries))
	for _, stored := range file.Entries {
		if stored.ID == "" || stored.Domain == "" {
			return nil, fmt.Errorf("entry missing id or domain")
		}
		if stored.Data == nil {
			stored.Data = map[string]string{}
		}
		out = append(out, Entry{
			ID:       stored.ID,
			Domain:   stored.Domain,
			Title:    stored.Title,
			UniqueID: stored.UniqueID,
			Data:     stored.Data,
			State:    StateNotLoaded,
		})
	}
	return out, nil
}

func (s *Store) restore(ctx context.Context) ([]byte, error) {
	if s.blob == nil {
		return nil, nil
	}
	data, err := s.blob.Load(ctx, blobName)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("restore entries from blob: %w", err)
	}
	if err := s.writeLocal(data); err != nil {
		return nil, err
	}
	s.log.Info("restored entries from blob")
	return data, nil
}

// Save writes all entries. A blob mirror failure is logged but the local
// write still counts.
func (s *Store) Save(ctx context.Context, entries []Entry) error {
	file := storeFile{SchemaVersion: SchemaVersion, Entries: make([]storedEntry, 0, len(entries))}
	for _, e := range entries {
		file.Entries = append(file.Entries, storedEntry{
			ID:       e.ID,
			Domain:   e.Domain,
			Title:    e.Title,
			UniqueID: e.UniqueID,
			Data:     e.Data,
		})
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}
	if err := s.writeLocal(data); err != nil {
		return err
	}
	if s.blob != nil {
		if err := s.blob.Save(ctx, blobName, data); err != nil {
			s.log.WithError(err).Warn("mirror entries to blob failed")
		}
	}
	return nil
}

func (s *Store) writeLocal(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir entries dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write entries: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace entries: %w", err)
	}
	return nil
}
