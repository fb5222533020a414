// In-memory KV implementation. Used for local development and tests.
// Supports file-based snapshot persistence so trust state survives
// restarts.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk. Values are
// embedded verbatim, so the snapshot stays human-readable.
type snapshot struct {
	Collections map[string]map[string]json.RawMessage `json:"collections"`
}

// MemoryStore implements KV with in-memory maps.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte // collection → key → value

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals the save goroutine to stop
}

// NewMemoryStore creates a new in-memory store. If dataDir is
// non-empty, data is persisted to a JSON snapshot in that directory
// and reloaded on the next start.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		data:   make(map[string]map[string][]byte),
		saveCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}

	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
		} else {
			m.snapshotPath = filepath.Join(dataDir, "trustplane.json")
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// ── KV operations ───────────────────────────────────────────

func (m *MemoryStore) Get(_ context.Context, collection, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[collection][key]
	if !ok {
		return nil, &ErrNotFound{Entity: collection, Key: key}
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryStore) Put(_ context.Context, collection, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("store: value for %s/%s is not valid JSON", collection, key)
	}
	cp := make([]byte, len(value))
	copy(cp, value)

	m.mu.Lock()
	col, ok := m.data[collection]
	if !ok {
		col = make(map[string][]byte)
		m.data[collection] = col
	}
	col[key] = cp
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, collection, key string) error {
	m.mu.Lock()
	col, ok := m.data[collection]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: collection, Key: key}
	}
	if _, ok := col[key]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: collection, Key: key}
	}
	delete(col, key)
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) ListKeys(_ context.Context, collection string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col := m.data[collection]
	keys := make([]string, 0, len(col))
	for k := range col {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops the save goroutine and forces a final snapshot write.
// Safe to call multiple times (second call is a no-op).
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		m.saveSnapshot()
	}
	return nil
}

// ── Snapshot persistence ────────────────────────────────────

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests (max one
// write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

// saveSnapshot persists all data to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{Collections: make(map[string]map[string]json.RawMessage, len(m.data))}
	for c, col := range m.data {
		out := make(map[string]json.RawMessage, len(col))
		for k, v := range col {
			out[k] = json.RawMessage(v)
		}
		snap.Collections[c] = out
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

// loadSnapshot reads data from disk on startup.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for c, col := range snap.Collections {
		dst := make(map[string][]byte, len(col))
		for k, v := range col {
			dst[k] = []byte(v)
			total++
		}
		m.data[c] = dst
	}

	log.Info().
		Int("collections", len(snap.Collections)).
		Int("entries", total).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

// Compile-time check that MemoryStore implements KV.
var _ KV = (*MemoryStore)(nil)
