package screener

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wonny/quantk/internal/rpc"
	"github.com/wonny/quantk/pkg/logger"
)

// SavedScreen is one persisted screen definition. Conditions are stored as
// their original unparsed DSL source so saved screens stay human-editable.
type SavedScreen struct {
	Name       string   `json:"name"`
	Conditions []string `json:"conditions"`
	Created    string   `json:"created"`
}

// Store persists named screens as one JSON file per name under a directory.
// Files are unlocked last-writer-wins, same discipline as the factor cache.
// ⭐ SSOT: 저장된 스크린 파일 접근은 여기서만
type Store struct {
	dir    string
	logger *logger.Logger
}

// NewStore creates a screen store rooted at dir
func NewStore(dir string, log *logger.Logger) *Store {
	return &Store{
		dir:    dir,
		logger: log.WithField("component", "screen_store"),
	}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// checkName rejects empty names and names that would escape the store dir
func (s *Store) checkName(name string) error {
	if name == "" {
		return rpc.NewError(rpc.CodeScreenError, "Screen name required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return rpc.NewError(rpc.CodeScreenError, "Invalid screen name: %s", name)
	}
	return nil
}

// Save persists a screen, overwriting any prior screen of the same name
func (s *Store) Save(name string, conditions []string) (*SavedScreen, error) {
	if err := s.checkName(name); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create screens dir: %w", err)
	}

	screen := &SavedScreen{
		Name:       name,
		Conditions: conditions,
		Created:    time.Now().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(screen, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode screen: %w", err)
	}
	if err := os.WriteFile(s.path(name), data, 0o644); err != nil {
		return nil, fmt.Errorf("write screen: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"name":       name,
		"conditions": len(conditions),
	}).Info("Saved screen")
	return screen, nil
}

// Load retrieves a saved screen by name
func (s *Store) Load(name string) (*SavedScreen, error) {
	if err := s.checkName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rpc.NewError(rpc.CodeScreenError, "Screen not found: %s", name)
		}
		return nil, fmt.Errorf("read screen: %w", err)
	}

	var screen SavedScreen
	if err := json.Unmarshal(data, &screen); err != nil {
		return nil, rpc.NewError(rpc.CodeScreenError, "Screen file corrupt: %s", name)
	}
	return &screen, nil
}

// List returns the saved screen names, sorted
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read screens dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}
