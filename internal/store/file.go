package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileStore is a MemoryStore persisted as one JSON document after every write
type FileStore struct {
	*MemoryStore
	filePath string
	lockFile string
	isLocked bool
}

// OpenFileStore loads filePath if present and takes the process lock
func OpenFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		filePath = "signal_bridge_state.json"
	}

	dir := filepath.Dir(filePath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	f := &FileStore{
		MemoryStore: NewMemoryStore(),
		filePath:    filePath,
		lockFile:    filePath + ".lock",
	}
	if err := f.lock(); err != nil {
		return nil, err
	}

	snap, err := f.load()
	if err != nil {
		f.Close()
		return nil, err
	}
	if snap != nil {
		f.restore(*snap)
	}
	f.onChange = f.saveLocked
	return f, nil
}

// Close releases the process lock
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.isLocked {
		return nil
	}
	if err := os.Remove(f.lockFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	f.isLocked = false
	return nil
}

// Path returns the state file location
func (f *FileStore) Path() string {
	return f.filePath
}

// saveLocked writes the snapshot with temp file and rename. mu must be held.
func (f *FileStore) saveLocked() error {
	data, err := json.MarshalIndent(f.snapshotLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store state: %w", err)
	}

	tempFile := f.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	if err := os.Rename(tempFile, f.filePath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to commit state file: %w", err)
	}
	return nil
}

func (f *FileStore) load() (*Snapshot, error) {
	return readSnapshot(f.filePath)
}

// ReadSnapshot loads a state file without taking the process lock, for
// read-only inspection while the bridge is running
func ReadSnapshot(filePath string) (*Snapshot, error) {
	snap, err := readSnapshot(filePath)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("state file %s does not exist", filePath)
	}
	return snap, nil
}

func readSnapshot(filePath string) (*Snapshot, error) {
	data, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state file: %w", err)
	}
	if err := validateSnapshot(&snap); err != nil {
		return nil, fmt.Errorf("invalid state file: %w", err)
	}
	return &snap, nil
}

// BackupState copies the current state file next to it with a timestamp suffix
func (f *FileStore) BackupState() (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read state file for backup: %w", err)
	}
	backupPath := fmt.Sprintf("%s.backup_%s", f.filePath, time.Now().Format("20060102_150405"))
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	return backupPath, nil
}

func validateSnapshot(snap *Snapshot) error {
	seen := make(map[string]bool, len(snap.Signals))
	for _, s := range snap.Signals {
		if s == nil || s.ID == "" {
			return fmt.Errorf("signal without id")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate signal id %s", s.ID)
		}
		seen[s.ID] = true
	}
	for _, o := range snap.Orders {
		if o == nil || o.ID == "" {
			return fmt.Errorf("order without id")
		}
		if o.RetryCount < 0 {
			return fmt.Errorf("order %s has negative retry count", o.ID)
		}
	}
	for _, s := range snap.Strategies {
		if s == nil || s.Name == "" {
			return fmt.Errorf("strategy without name")
		}
	}
	for i, c := range snap.RiskConfigs {
		if c == nil {
			return fmt.Errorf("nil risk config at %d", i)
		}
	}
	return nil
}

func (f *FileStore) lock() error {
	if _, err := os.Stat(f.lockFile); err == nil {
		if err := f.checkStaleLock(); err != nil {
			return err
		}
	}

	lockInfo := map[string]interface{}{
		"timestamp": time.Now(),
		"pid":       os.Getpid(),
		"hostname":  getHostname(),
	}
	lockData, err := json.Marshal(lockInfo)
	if err != nil {
		return fmt.Errorf("failed to create lock data: %w", err)
	}
	if err := os.WriteFile(f.lockFile, lockData, 0644); err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	f.isLocked = true
	return nil
}

// checkStaleLock removes unreadable locks and locks older than five minutes
func (f *FileStore) checkStaleLock() error {
	lockData, err := os.ReadFile(f.lockFile)
	if err != nil {
		return fmt.Errorf("failed to read lock file: %w", err)
	}

	var lockInfo map[string]interface{}
	if err := json.Unmarshal(lockData, &lockInfo); err != nil {
		os.Remove(f.lockFile)
		return nil
	}

	if timestampStr, ok := lockInfo["timestamp"].(string); ok {
		if timestamp, err := time.Parse(time.RFC3339, timestampStr); err == nil {
			if time.Since(timestamp) > 5*time.Minute {
				os.Remove(f.lockFile)
				return nil
			}
		}
	}
	return fmt.Errorf("store %s is locked by another process", f.filePath)
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
