package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultMaxLogBytes is the size at which a history log is rotated.
const DefaultMaxLogBytes int64 = 64 << 20

// FileStore persists trades, positions and wallet statistics as JSON files.
//
// Layout under the root directory:
//
//	<ASSET>/trades.jsonl         whale trades, one JSON object per line
//	<ASSET>/open/<wallet>.json   current open position (overwritten, removed on close)
//	<ASSET>/closed.jsonl         closed position events, one per line
//	wallets/<wallet>.json        cumulative wallet statistics
//
// A history log that reaches maxLogBytes is renamed to <name>.1, replacing
// the previous rotation, and a fresh log is started.
type FileStore struct {
	dir         string
	maxLogBytes int64
	mu          sync.Mutex
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithMaxLogBytes sets the rotation size of the history logs.
func WithMaxLogBytes(n int64) FileStoreOption {
	return func(s *FileStore) {
		if n > 0 {
			s.maxLogBytes = n
		}
	}
}

// NewFileStore creates the root directory if needed.
func NewFileStore(dir string, opts ...FileStoreOption) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &FileStore{dir: dir, maxLogBytes: DefaultMaxLogBytes}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the root directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// SaveTrade appends a trade to the asset's trade log.
func (s *FileStore) SaveTrade(trade Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendLine(filepath.Join(s.dir, safeName(trade.Asset), "trades.jsonl"), trade)
}

// SavePosition writes the current state of an open position.
func (s *FileStore) SavePosition(pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, safeName(pos.Asset), "open", safeName(pos.Wallet)+".json")
	return writeJSON(path, pos)
}

// SaveClosed appends a closed-position event and removes the open record.
func (s *FileStore) SaveClosed(event PositionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := event.Position
	if err := s.appendLine(filepath.Join(s.dir, safeName(pos.Asset), "closed.jsonl"), event); err != nil {
		return err
	}

	open := filepath.Join(s.dir, safeName(pos.Asset), "open", safeName(pos.Wallet)+".json")
	if err := os.Remove(open); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove open record: %w", err)
	}
	return nil
}

// SaveWalletStats overwrites the wallet statistics file.
func (s *FileStore) SaveWalletStats(stats WalletStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return writeJSON(filepath.Join(s.dir, "wallets", safeName(stats.Wallet)+".json"), stats)
}

// LoadWalletStats reads every persisted wallet statistics file.
func (s *FileStore) LoadWalletStats() (map[string]WalletStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]WalletStats)
	entries, err := os.ReadDir(filepath.Join(s.dir, "wallets"))
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read wallets dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, "wallets", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		var stats WalletStats
		if err := json.Unmarshal(data, &stats); err != nil {
			return nil, fmt.Errorf("decode %s: %w", entry.Name(), err)
		}
		out[stats.Wallet] = stats
	}
	return out, nil
}

// appendLine writes v as one JSON line at the end of path, rotating the
// file first when it has reached maxLogBytes.
func (s *FileStore) appendLine(path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	if info, err := os.Stat(path); err == nil && info.Size() >= s.maxLogBytes {
		if err := os.Rename(path, path+".1"); err != nil {
			return fmt.Errorf("rotate %s: %w", path, err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(append(raw, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// ReadLines decodes every record of a JSON lines history file.
func ReadLines[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []T
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// writeJSON writes v atomically via a temp file and rename.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// safeName strips path separators from identifiers used as file names.
func safeName(s string) string {
	s = strings.ReplaceAll(s, string(filepath.Separator), "_")
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" {
		return "unknown"
	}
	return s
}
