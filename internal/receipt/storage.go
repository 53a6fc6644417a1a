package receipt

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Storage defines the interface for receipt image blob operations
type Storage interface {
	// Save saves a blob and returns its storage key
	Save(filename string, data []byte) (string, error)

	// Get retrieves a blob by storage key
	Get(key string) ([]byte, error)

	// Delete removes a blob
	Delete(key string) error
}

// LocalStorage implements the Storage interface using the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save saves a blob to local storage
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	path := filepath.Join(l.basePath, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return filename, nil
}

// Get retrieves a blob from local storage
func (l *LocalStorage) Get(key string) ([]byte, error) {
	fullPath := filepath.Join(l.basePath, key)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a blob from local storage
func (l *LocalStorage) Delete(key string) error {
	fullPath := filepath.Join(l.basePath, key)
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// URLSigner mints and verifies expiring signed URLs for receipt images, so a
// stored image can be viewed without the file endpoint being open to anyone
// who guesses a key.
type URLSigner struct {
	secret []byte
}

// NewURLSigner creates a URLSigner with the given secret. An empty secret
// gets a random one, which is fine for a single-process deployment: minted
// URLs just stop verifying after a restart.
func NewURLSigner(secret string) *URLSigner {
	if secret == "" {
		buf := make([]byte, 32)
		rand.Read(buf)
		return &URLSigner{secret: buf}
	}
	return &URLSigner{secret: []byte(secret)}
}

// TemporaryURL returns the path and query for a signed link to a storage key
// that stops working after ttl.
func (s *URLSigner) TemporaryURL(key string, ttl time.Duration) string {
	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("/api/files/%s?expires=%d&sig=%s", key, expires, s.sign(key, expires))
}

// Verify checks a key/expiry/signature triple from an incoming request.
func (s *URLSigner) Verify(key string, expiresStr string, sig string) bool {
	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return false
	}
	if time.Now().Unix() > expires {
		return false
	}
	return hmac.Equal([]byte(s.sign(key, expires)), []byte(sig))
}

func (s *URLSigner) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
