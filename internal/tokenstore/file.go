package tokenstore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// File keeps tokens in a JSON document on disk. When a secret is configured
// every value is sealed with NaCl secretbox before it is written.
type File struct {
	path   string
	key    *[32]byte
	logger *logrus.Logger

	mu     sync.Mutex
	values map[string]string
}

func NewFile(path string, secret []byte, logger *logrus.Logger) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("token file path is required")
	}

	f := &File{
		path:   path,
		logger: logger,
		values: make(map[string]string),
	}
	if len(secret) > 0 {
		k := sha256.Sum256(secret)
		f.key = &k
	}

	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, ok := f.values[key]
	if !ok {
		return "", false
	}
	v, err := f.open(raw)
	if err != nil {
		f.logger.WithError(err).WithField("key", key).Warn("Discarding unreadable token")
		return "", false
	}
	return v, true
}

func (f *File) Set(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sealed, err := f.seal(value)
	if err != nil {
		f.logger.WithError(err).WithField("key", key).Error("Failed to seal token")
		return
	}
	f.values[key] = sealed
	f.flush()
}

func (f *File) Remove(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.values[key]; !ok {
		return
	}
	delete(f.values, key)
	f.flush()
}

func (f *File) load() error {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read token file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &f.values); err != nil {
		f.logger.WithError(err).WithField("path", f.path).Warn("Token file is corrupt, starting empty")
		f.values = make(map[string]string)
	}
	return nil
}

// flush writes the whole document through a temp file so a crash never leaves
// a half-written token file behind. Caller holds mu.
func (f *File) flush() {
	data, err := json.Marshal(f.values)
	if err != nil {
		f.logger.WithError(err).Error("Failed to marshal token file")
		return
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		f.logger.WithError(err).Error("Failed to create token directory")
		return
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		f.logger.WithError(err).Error("Failed to write token file")
		return
	}
	if err := os.Rename(tmp, f.path); err != nil {
		f.logger.WithError(err).Error("Failed to replace token file")
	}
}

func (f *File) seal(value string) (string, error) {
	if f.key == nil {
		return value, nil
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(value), &nonce, f.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (f *File) open(raw string) (string, error) {
	if f.key == nil {
		return raw, nil
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed token: %w", err)
	}
	if len(data) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("sealed token too short")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])
	plain, ok := secretbox.Open(nil, data[nonceSize:], &nonce, f.key)
	if !ok {
		return "", fmt.Errorf("sealed token failed authentication")
	}
	return string(plain), nil
}
