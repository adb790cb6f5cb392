package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// CandidateCreatorCache is the set of wallets whose tokens, in simulation,
// reached the profit multiple within one hour. Persisted as a JSON blob;
// monotonically grows during a session (wallets are never evicted).
type CandidateCreatorCache struct {
	mu      sync.RWMutex
	path    string
	wallets map[WalletID]struct{}
}

// NewCandidateCreatorCache loads an existing cache from path, or starts
// empty if the file does not exist.
func NewCandidateCreatorCache(path string) (*CandidateCreatorCache, error) {
	c := &CandidateCreatorCache{
		path:    path,
		wallets: make(map[WalletID]struct{}),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	for _, w := range list {
		c.wallets[w] = struct{}{}
	}
	return c, nil
}

// Contains reports whether any of wallets is already a known candidate
// creator.
func (c *CandidateCreatorCache) Contains(wallets []WalletID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, w := range wallets {
		if _, ok := c.wallets[w]; ok {
			return true
		}
	}
	return false
}

// InsertAll adds wallets to the cache (inserting an already-present wallet
// is a no-op) and persists the result. Returns the number of genuinely new
// wallets added.
func (c *CandidateCreatorCache) InsertAll(wallets []WalletID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, w := range wallets {
		if _, ok := c.wallets[w]; ok {
			continue
		}
		c.wallets[w] = struct{}{}
		added++
	}

	if added == 0 {
		return 0, nil
	}

	if err := c.persistLocked(); err != nil {
		log.Error().Err(err).Msg("failed to persist creator cache")
		return added, err
	}
	return added, nil
}

// Size returns the number of known candidate creator wallets.
func (c *CandidateCreatorCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.wallets)
}

func (c *CandidateCreatorCache) persistLocked() error {
	list := make([]string, 0, len(c.wallets))
	for w := range c.wallets {
		list = append(list, w)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(c.path, data, 0644)
}
