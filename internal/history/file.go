package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

func newHexID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// FileStore keeps one JSON transcript file per session plus a
// metadata.json name map under a per-user directory. This mirrors a
// simple deployment with no database; a keyed mutex serializes the
// read-extend-rewrite of each session file so concurrent turns on the
// same session cannot drop an append.
type FileStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileStore{root: root, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *FileStore) sessionLock(userID, sessionID string) *sync.Mutex {
	key := userID + "/" + sessionID
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// userDir maps an opaque identity to a filesystem-safe partition name.
func (s *FileStore) userDir(userID string) (string, error) {
	dir := filepath.Join(s.root, url.QueryEscape(userID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create user dir: %w", err)
	}
	return dir, nil
}

func (s *FileStore) sessionPath(userID, sessionID string) (string, error) {
	dir, err := s.userDir(userID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, sessionID+".json"), nil
}

const metadataFile = "metadata.json"

func (s *FileStore) loadMetadata(userID string) (map[string]string, error) {
	dir, err := s.userDir(userID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	meta := map[string]string{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return meta, nil
}

func (s *FileStore) saveMetadata(userID string, meta map[string]string) error {
	dir, err := s.userDir(userID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, metadataFile), data, 0o644)
}

func (s *FileStore) CreateSession(_ context.Context, userID string) (SessionInfo, error) {
	sessionID := newHexID()
	path, err := s.sessionPath(userID, sessionID)
	if err != nil {
		return SessionInfo{}, err
	}
	if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
		return SessionInfo{}, fmt.Errorf("create session file: %w", err)
	}

	lock := s.sessionLock(userID, "metadata")
	lock.Lock()
	defer lock.Unlock()
	meta, err := s.loadMetadata(userID)
	if err != nil {
		return SessionInfo{}, err
	}
	name := DefaultName(sessionID)
	meta[sessionID] = name
	if err := s.saveMetadata(userID, meta); err != nil {
		return SessionInfo{}, err
	}

	info, statErr := os.Stat(path)
	si := SessionInfo{ID: sessionID, Name: name}
	if statErr == nil {
		si.LastModified = info.ModTime()
	}
	return si, nil
}

func (s *FileStore) ListSessions(_ context.Context, userID string) ([]SessionInfo, error) {
	dir, err := s.userDir(userID)
	if err != nil {
		return nil, err
	}
	meta, err := s.loadMetadata(userID)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read user dir: %w", err)
	}
	sessions := make([]SessionInfo, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") || name == metadataFile {
			continue
		}
		sid := strings.TrimSuffix(name, ".json")
		display, ok := meta[sid]
		if !ok {
			display = DefaultName(sid)
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		sessions = append(sessions, SessionInfo{ID: sid, Name: display, LastModified: info.ModTime()})
	}
	sortSessionsByRecency(sessions)
	return sessions, nil
}

func (s *FileStore) History(_ context.Context, userID, sessionID string) ([]Turn, error) {
	path, err := s.sessionPath(userID, sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	turns := []Turn{}
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return turns, nil
}

func (s *FileStore) AppendTurns(ctx context.Context, userID, sessionID string, turns []Turn) error {
	lock := s.sessionLock(userID, sessionID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.History(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	existing = append(existing, turns...)

	path, err := s.sessionPath(userID, sessionID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *FileStore) SessionExists(_ context.Context, userID, sessionID string) (bool, error) {
	path, err := s.sessionPath(userID, sessionID)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err == nil {
		return true, nil
	}
	meta, err := s.loadMetadata(userID)
	if err != nil {
		return false, err
	}
	_, ok := meta[sessionID]
	return ok, nil
}

func (s *FileStore) Rename(_ context.Context, userID, sessionID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	lock := s.sessionLock(userID, "metadata")
	lock.Lock()
	defer lock.Unlock()

	meta, err := s.loadMetadata(userID)
	if err != nil {
		return err
	}
	if _, ok := meta[sessionID]; !ok {
		return ErrNotFound
	}
	meta[sessionID] = name
	return s.saveMetadata(userID, meta)
}

func (s *FileStore) SetName(_ context.Context, userID, sessionID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName(sessionID)
	}
	lock := s.sessionLock(userID, "metadata")
	lock.Lock()
	defer lock.Unlock()

	meta, err := s.loadMetadata(userID)
	if err != nil {
		return err
	}
	meta[sessionID] = name
	return s.saveMetadata(userID, meta)
}

func (s *FileStore) Delete(_ context.Context, userID, sessionID string) error {
	path, err := s.sessionPath(userID, sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}

	lock := s.sessionLock(userID, "metadata")
	lock.Lock()
	defer lock.Unlock()
	meta, err := s.loadMetadata(userID)
	if err != nil {
		return err
	}
	if _, ok := meta[sessionID]; ok {
		delete(meta, sessionID)
		return s.saveMetadata(userID, meta)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func sortSessionsByRecency(sessions []SessionInfo) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastModified.After(sessions[j].LastModified)
	})
}
