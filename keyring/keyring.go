// Package keyring provides secure storage for management interface
// passwords. It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"

	"github.com/yllada/ovpn-admin/common"
)

const (
	// serviceName is the identifier used in the system keyring.
	serviceName = "ovpn-admin"

	saltSize = 16
)

// argon2id parameters for the fallback file key.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	kdfKeyLen  = 32
)

// Store keeps passwords keyed by management endpoint.
type Store struct {
	mu        sync.Mutex
	checked   bool
	useLocal  bool
	local     map[string]string
	filePath  string
	salt      []byte
	derived   []byte
	keySource string
	logger    common.Logger
}

// fileFormat is the on-disk layout of the fallback store.
type fileFormat struct {
	Salt string `json:"salt"`
	Data string `json:"data"`
}

var _ common.CredentialStore = (*Store)(nil)

// New returns a store that prefers the system keyring and falls back to
// ~/.config/ovpn-admin/.credentials.
func New(logger common.Logger) *Store {
	dir, err := common.GetConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	s := newStore(filepath.Join(dir, common.CredentialsFileName), logger)
	return s
}

// NewFileStore returns a store that only uses the encrypted file at path.
func NewFileStore(path string, logger common.Logger) *Store {
	s := newStore(path, logger)
	s.checked = true
	s.useLocal = true
	s.loadLocal()
	return s
}

func newStore(path string, logger common.Logger) *Store {
	if logger == nil {
		logger = common.NopLogger{}
	}
	return &Store{
		local:     make(map[string]string),
		filePath:  path,
		keySource: machineSecret(),
		logger:    logger,
	}
}

// detectBackend decides once whether the system keyring works. Callers hold mu.
func (s *Store) detectBackend() {
	if s.checked {
		return
	}
	s.checked = true

	testKey := serviceName + "-test-init"
	if err := keyring.Set(serviceName, testKey, "test"); err == nil {
		_ = keyring.Delete(serviceName, testKey)
		return
	}
	s.logger.Warn("System keyring unavailable, using encrypted file %s", s.filePath)
	s.useLocal = true
	s.loadLocal()
}

func machineSecret() string {
	hostname, _ := os.Hostname()
	machineID := "default-machine-id"
	// Try to read machine-id
	if data, err := os.ReadFile("/etc/machine-id"); err == nil {
		machineID = strings.TrimSpace(string(data))
	}
	return fmt.Sprintf("%s-%s-%s-%d", serviceName, hostname, machineID, os.Getuid())
}

// key derives the file key from the machine secret. It is cached until the
// salt changes.
func (s *Store) key() []byte {
	if s.derived == nil {
		s.derived = argon2.IDKey([]byte(s.keySource), s.salt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)
	}
	return s.derived
}

func (s *Store) loadLocal() {
	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		return
	}

	var ff fileFormat
	if err := json.Unmarshal(raw, &ff); err != nil {
		s.logger.Warn("Ignoring unreadable credentials file %s: %v", s.filePath, err)
		return
	}
	salt, err := base64.StdEncoding.DecodeString(ff.Salt)
	if err != nil {
		s.logger.Warn("Ignoring credentials file with bad salt: %v", err)
		return
	}
	s.salt = salt
	s.derived = nil

	plaintext, err := s.decrypt(ff.Data)
	if err != nil {
		s.logger.Warn("Failed to decrypt credentials file: %v", err)
		return
	}
	if err := json.Unmarshal(plaintext, &s.local); err != nil {
		s.logger.Warn("Ignoring corrupt credentials: %v", err)
	}
}

func (s *Store) saveLocal() error {
	if s.salt == nil {
		s.salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, s.salt); err != nil {
			return common.WrapError(common.ErrEncryption, err.Error())
		}
		s.derived = nil
	}

	data, err := json.Marshal(s.local)
	if err != nil {
		return common.WrapError(common.ErrCredentialStorage, err.Error())
	}
	encrypted, err := s.encrypt(data)
	if err != nil {
		return err
	}
	out, err := json.Marshal(fileFormat{
		Salt: base64.StdEncoding.EncodeToString(s.salt),
		Data: encrypted,
	})
	if err != nil {
		return common.WrapError(common.ErrCredentialStorage, err.Error())
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0700); err != nil {
		return common.WrapError(common.ErrCredentialStorage, err.Error())
	}
	if err := os.WriteFile(s.filePath, out, 0600); err != nil {
		return common.WrapError(common.ErrCredentialStorage, err.Error())
	}
	return nil
}

func (s *Store) encrypt(plaintext []byte) (string, error) {
	gcm, err := s.aead()
	if err != nil {
		return "", common.WrapError(common.ErrEncryption, err.Error())
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", common.WrapError(common.ErrEncryption, err.Error())
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *Store) decrypt(data string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, common.WrapError(common.ErrDecryption, err.Error())
	}

	gcm, err := s.aead()
	if err != nil {
		return nil, common.WrapError(common.ErrDecryption, err.Error())
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, common.WrapError(common.ErrDecryption, "ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, common.WrapError(common.ErrDecryption, err.Error())
	}
	return plaintext, nil
}

func (s *Store) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key())
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Store saves the password for a management endpoint.
func (s *Store) Store(endpoint, password string) error {
	if endpoint == "" {
		return common.WrapError(common.ErrInvalidArg, "endpoint cannot be empty")
	}
	if password == "" {
		return common.WrapError(common.ErrInvalidArg, "password cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.detectBackend()

	if !s.useLocal {
		err := keyring.Set(serviceName, endpoint, password)
		if err == nil {
			return nil
		}
		// Fallback to local storage
		s.logger.Warn("Keyring write failed, falling back to file: %v", err)
		s.useLocal = true
		s.loadLocal()
	}

	s.local[endpoint] = password
	return s.saveLocal()
}

// Get retrieves the password for a management endpoint.
func (s *Store) Get(endpoint string) (string, error) {
	if endpoint == "" {
		return "", common.WrapError(common.ErrInvalidArg, "endpoint cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.detectBackend()

	if !s.useLocal {
		password, err := keyring.Get(serviceName, endpoint)
		if err == nil {
			return password, nil
		}
		if !errors.Is(err, keyring.ErrNotFound) {
			s.logger.Warn("Keyring read failed: %v", err)
		}
	}

	password, ok := s.local[endpoint]
	if !ok {
		return "", common.ErrCredentialsNotFound
	}
	return password, nil
}

// Delete removes the password for a management endpoint. Deleting a
// missing entry is not an error.
func (s *Store) Delete(endpoint string) error {
	if endpoint == "" {
		return common.WrapError(common.ErrInvalidArg, "endpoint cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.detectBackend()

	if !s.useLocal {
		if err := keyring.Delete(serviceName, endpoint); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return common.WrapError(common.ErrCredentialStorage, err.Error())
		}
	}

	// Also remove from local storage if present
	if _, ok := s.local[endpoint]; !ok {
		return nil
	}
	delete(s.local, endpoint)
	return s.saveLocal()
}

// Exists checks if a password is stored for the endpoint.
func (s *Store) Exists(endpoint string) bool {
	_, err := s.Get(endpoint)
	return err == nil
}

// UsingFile reports whether the encrypted file backend is in use.
func (s *Store) UsingFile() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detectBackend()
	return s.useLocal
}
