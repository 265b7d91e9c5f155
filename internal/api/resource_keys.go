package api

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
)

// ResourceKeyHeader carries resource keys for link-shared files
const ResourceKeyHeader = "X-Goog-Drive-Resource-Keys"

var (
	fileIDPattern      = regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`)
	folderIDPattern    = regexp.MustCompile(`/folders/([a-zA-Z0-9_-]+)`)
	openIDPattern      = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)
	resourceKeyPattern = regexp.MustCompile(`resourcekey=([a-zA-Z0-9_-]+)`)
)

// ResourceKeyManager remembers resource keys for link-shared files and
// folders so requests against them can send the required header
type ResourceKeyManager struct {
	mu    sync.RWMutex
	cache map[string]resourceKeyEntry
	path  string
	clock clockwork.Clock
}

type resourceKeyEntry struct {
	ResourceKey string `json:"resourceKey"`
	Timestamp   int64  `json:"timestamp"`
	Source      string `json:"source"` // url, api
}

// NewResourceKeyManager creates a new resource key manager
func NewResourceKeyManager(clock clockwork.Clock) *ResourceKeyManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ResourceKeyManager{
		cache: make(map[string]resourceKeyEntry),
		clock: clock,
	}
}

// SetCachePath sets the path for persisting resource keys and loads it
func (m *ResourceKeyManager) SetCachePath(path string) error {
	m.mu.Lock()
	m.path = path
	m.mu.Unlock()
	return m.load()
}

// AddKey adds a resource key to the cache
func (m *ResourceKeyManager) AddKey(fileID, resourceKey, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.cache[fileID]; ok && existing.ResourceKey == resourceKey {
		return
	}
	m.cache[fileID] = resourceKeyEntry{
		ResourceKey: resourceKey,
		Timestamp:   m.clock.Now().Unix(),
		Source:      source,
	}
	_ = m.save()
}

// GetKey retrieves a resource key from the cache
func (m *ResourceKeyManager) GetKey(fileID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.cache[fileID]
	if !ok {
		return "", false
	}
	return entry.ResourceKey, true
}

// BuildHeader builds the X-Goog-Drive-Resource-Keys header value
func (m *ResourceKeyManager) BuildHeader(fileIDs ...string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pairs []string
	for _, id := range fileIDs {
		if entry, ok := m.cache[id]; ok {
			pairs = append(pairs, id+"/"+entry.ResourceKey)
		}
	}
	return strings.Join(pairs, ",")
}

// ParseFromURL extracts a file or folder ID and its resource key from a
// Drive sharing URL. The key is empty when the URL carries none.
func ParseFromURL(url string) (string, string, bool) {
	if !strings.HasPrefix(url, "https://drive.google.com/") {
		return "", "", false
	}

	idMatch := fileIDPattern.FindStringSubmatch(url)
	if idMatch == nil {
		idMatch = folderIDPattern.FindStringSubmatch(url)
	}
	if idMatch == nil {
		idMatch = openIDPattern.FindStringSubmatch(url)
	}
	if idMatch == nil {
		return "", "", false
	}

	keyMatch := resourceKeyPattern.FindStringSubmatch(url)
	if keyMatch == nil {
		return idMatch[1], "", true
	}
	return idMatch[1], keyMatch[1], true
}

// Invalidate removes a resource key from the cache
func (m *ResourceKeyManager) Invalidate(fileID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cache, fileID)
	_ = m.save()
}

// UpdateFromAPIResponse records the key reported in file metadata
func (m *ResourceKeyManager) UpdateFromAPIResponse(fileID, resourceKey string) {
	if resourceKey != "" {
		m.AddKey(fileID, resourceKey, "api")
	}
}

func (m *ResourceKeyManager) load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.path == "" {
		return nil
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &m.cache)
}

// save must be called with mu held
func (m *ResourceKeyManager) save() error {
	if m.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(m.cache, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0700); err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0600)
}
