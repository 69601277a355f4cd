package securemem

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// TokenStore resolves the gateway bearer token on demand and caches it in
// protected memory. Resolution order: explicit value, environment variable,
// token file. The cache is re-read per process; Invalidate forces a re-read
// after rotation.
type TokenStore struct {
	envVar   string
	filePath string

	mu     sync.Mutex
	cached *Secret
}

// NewTokenStore builds a store reading from envVar first, then filePath.
func NewTokenStore(envVar, filePath string) *TokenStore {
	return &TokenStore{envVar: envVar, filePath: filePath}
}

// NewStaticTokenStore seals a literal token, for tests and one-off runs.
func NewStaticTokenStore(token string) *TokenStore {
	return &TokenStore{cached: NewSecret(strings.TrimSpace(token))}
}

// Token returns the current bearer token. Implements the gateway's token
// provider contract; fetched once per connection attempt so rotated
// credentials are picked up after Invalidate.
func (ts *TokenStore) Token() (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.cached != nil && !ts.cached.IsEmpty() {
		return ts.cached.Reveal(), nil
	}

	if ts.envVar != "" {
		if v := strings.TrimSpace(os.Getenv(ts.envVar)); v != "" {
			ts.replaceLocked(NewSecret(v))
			return v, nil
		}
	}
	if ts.filePath != "" {
		data, err := os.ReadFile(ts.filePath)
		if err != nil {
			return "", fmt.Errorf("read token file: %w", err)
		}
		v := strings.TrimSpace(string(data))
		if v == "" {
			return "", fmt.Errorf("token file %s is empty", ts.filePath)
		}
		ts.replaceLocked(NewSecretFromBytes([]byte(v)))
		return v, nil
	}
	return "", fmt.Errorf("no gateway token configured")
}

// Invalidate drops the cached token so the next Token call re-resolves it.
func (ts *TokenStore) Invalidate() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.replaceLocked(nil)
}

// Close wipes the cached token.
func (ts *TokenStore) Close() {
	ts.Invalidate()
}

func (ts *TokenStore) replaceLocked(next *Secret) {
	if ts.cached != nil {
		ts.cached.Destroy()
	}
	ts.cached = next
}
