// Package crypto handles the key material of the local custody backend:
// password-encrypted key files, EIP-1559 transaction signing, and HMAC
// request signatures for the remote custody API.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	fileVersion      = 1
)

// ErrKeyNotFound is returned by KeyRing.Key for an unknown key ID.
var ErrKeyNotFound = errors.New("crypto: key not found")

// keyFile is the on-disk format written by EncryptKey. Binary fields are
// base64 standard encoded.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address,omitempty"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}

func parseKeyHex(privateKeyHex string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: private key hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("crypto: private key is %d bytes, want 32", len(b))
	}
	return b, nil
}

// EncryptKey seals a hex private key under password (PBKDF2-SHA256 then
// AES-256-GCM) and returns the key file JSON. The derived address is stored
// in clear so operators can tell files apart.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	keyBytes, err := parseKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	addr := ""
	if s, err := NewTxSigner(hex.EncodeToString(keyBytes), nil); err == nil {
		addr = s.Address().Hex()
	}

	return json.MarshalIndent(keyFile{
		Version:    fileVersion,
		Address:    addr,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey and returns the private
// key as hex without a 0x prefix.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: key file: %w", err)
	}
	if kf.Version != fileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}

	var fields [3][]byte
	for i, s := range []string{kf.Salt, kf.Nonce, kf.Ciphertext} {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", fmt.Errorf("crypto: key file field %d: %w", i, err)
		}
		fields[i] = b
	}

	gcm, err := newGCM(password, fields[0])
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, fields[1], fields[2], nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt (wrong password?): %w", err)
	}
	return hex.EncodeToString(plain), nil
}

// KeyRing resolves private keys by key ID. Keys come from raw hex entries
// or from "<dir>/<keyID>.json" files sealed with a shared password; files
// are decrypted once and cached.
type KeyRing struct {
	dir      string
	password string
	raw      map[string]string

	mu    sync.Mutex
	cache map[string]string
}

// NewKeyRing creates a KeyRing. raw maps key IDs to hex keys and takes
// precedence over files in dir.
func NewKeyRing(dir, password string, raw map[string]string) *KeyRing {
	return &KeyRing{
		dir:      dir,
		password: password,
		raw:      raw,
		cache:    make(map[string]string),
	}
}

// Key returns the hex private key for keyID.
func (k *KeyRing) Key(keyID string) (string, error) {
	if keyID == "" || strings.ContainsAny(keyID, `/\`) || strings.Contains(keyID, "..") {
		return "", fmt.Errorf("crypto: invalid key id %q", keyID)
	}
	if h, ok := k.raw[keyID]; ok {
		b, err := parseKeyHex(h)
		if err != nil {
			return "", fmt.Errorf("crypto: key %s: %w", keyID, err)
		}
		return hex.EncodeToString(b), nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if h, ok := k.cache[keyID]; ok {
		return h, nil
	}
	if k.dir == "" {
		return "", fmt.Errorf("crypto: key %s: %w", keyID, ErrKeyNotFound)
	}
	data, err := os.ReadFile(filepath.Join(k.dir, keyID+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("crypto: key %s: %w", keyID, ErrKeyNotFound)
		}
		return "", fmt.Errorf("crypto: key %s: %w", keyID, err)
	}
	h, err := DecryptKey(data, k.password)
	if err != nil {
		return "", fmt.Errorf("crypto: key %s: %w", keyID, err)
	}
	k.cache[keyID] = h
	return h, nil
}
