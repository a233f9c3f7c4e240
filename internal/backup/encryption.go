package backup

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"dumpkeep/internal/logging"
)

// Recipient names one party that can decrypt envelope-encrypted artifacts.
// KeyFile holds the recipient's 256-bit key, raw or hex-encoded.
type Recipient struct {
	Name    string `mapstructure:"name" yaml:"name" json:"name"`
	KeyFile string `mapstructure:"key_file" yaml:"key_file" json:"key_file"`
}

// EncryptionConfig controls artifact encryption for one target. With
// recipients configured the artifact carries one wrapped copy of a random
// data key per recipient; otherwise the key is derived from the passphrase
// file with PBKDF2.
type EncryptionConfig struct {
	Enabled        bool        `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	PassphraseFile string      `mapstructure:"passphrase_file" yaml:"passphrase_file" json:"passphrase_file"`
	Recipients     []Recipient `mapstructure:"recipients" yaml:"recipients" json:"recipients"`
}

// Encrypted artifact layout, all modes:
//
//	magic(4) | mode(1) | mode-specific header | nonce-prefixed GCM body
//
// Passphrase mode header is a 16-byte PBKDF2 salt. Recipient mode header is
// a count byte followed by count entries of
// nameLen(1) | name | wrappedLen(2, big-endian) | wrapped data key.
var envelopeMagic = []byte("DKE1")

const (
	envelopeModePassphrase byte = 0x01
	envelopeModeRecipients byte = 0x02

	passphraseSaltSize = 16
	pbkdf2Iterations   = 100000
	dataKeySize        = 32
)

// IsEncryptedPayload reports whether data begins with the envelope magic
func IsEncryptedPayload(data []byte) bool {
	return bytes.HasPrefix(data, envelopeMagic)
}

// Encryptor encrypts and decrypts artifact payloads with AES-256-GCM
type Encryptor struct {
	config *EncryptionConfig
	logger *logging.Logger
}

// NewEncryptor creates an Encryptor. A nil config disables encryption.
func NewEncryptor(config *EncryptionConfig, logger *logging.Logger) *Encryptor {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Encryptor{
		config: config,
		logger: logger,
	}
}

// Enabled returns whether artifacts will be encrypted
func (e *Encryptor) Enabled() bool {
	return e.config != nil && e.config.Enabled
}

// Algorithm returns the cipher name recorded in artifact metadata
func (e *Encryptor) Algorithm() string {
	if !e.Enabled() {
		return "NONE"
	}
	return "AES-256-GCM"
}

// RecipientNames lists the configured recipient names, in order
func (e *Encryptor) RecipientNames() []string {
	if e.config == nil || len(e.config.Recipients) == 0 {
		return nil
	}
	names := make([]string, 0, len(e.config.Recipients))
	for _, recipient := range e.config.Recipients {
		names = append(names, recipient.Name)
	}
	return names
}

// Encrypt seals a payload for the configured recipients, or under the
// passphrase-derived key when no recipients are configured.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if !e.Enabled() {
		return plaintext, nil
	}
	if len(e.config.Recipients) > 0 {
		return e.encryptForRecipients(plaintext)
	}
	return e.encryptWithPassphrase(plaintext)
}

func (e *Encryptor) encryptWithPassphrase(plaintext []byte) ([]byte, error) {
	passphrase, err := e.loadOrCreatePassphrase()
	if err != nil {
		return nil, err
	}

	salt := make([]byte, passphraseSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, NewEncryptionError("failed to generate salt", err)
	}

	key := deriveKey(passphrase, salt)
	sealed, err := gcmSeal(key, plaintext)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(envelopeMagic)+1+len(salt)+len(sealed))
	out = append(out, envelopeMagic...)
	out = append(out, envelopeModePassphrase)
	out = append(out, salt...)
	out = append(out, sealed...)
	return out, nil
}

func (e *Encryptor) encryptForRecipients(plaintext []byte) ([]byte, error) {
	if len(e.config.Recipients) > 255 {
		return nil, NewEncryptionError("too many recipients, maximum is 255", nil)
	}

	dataKey := make([]byte, dataKeySize)
	if _, err := io.ReadFull(rand.Reader, dataKey); err != nil {
		return nil, NewEncryptionError("failed to generate data key", err)
	}

	var out bytes.Buffer
	out.Write(envelopeMagic)
	out.WriteByte(envelopeModeRecipients)
	out.WriteByte(byte(len(e.config.Recipients)))

	for _, recipient := range e.config.Recipients {
		if len(recipient.Name) == 0 || len(recipient.Name) > 255 {
			return nil, NewEncryptionError(fmt.Sprintf("invalid recipient name %q", recipient.Name), nil)
		}
		recipientKey, err := loadRecipientKey(recipient)
		if err != nil {
			return nil, err
		}
		wrapped, err := gcmSeal(recipientKey, dataKey)
		if err != nil {
			return nil, NewEncryptionError(fmt.Sprintf("failed to wrap data key for %s", recipient.Name), err)
		}
		out.WriteByte(byte(len(recipient.Name)))
		out.WriteString(recipient.Name)

		var wrappedLen [2]byte
		binary.BigEndian.PutUint16(wrappedLen[:], uint16(len(wrapped)))
		out.Write(wrappedLen[:])
		out.Write(wrapped)
	}

	body, err := gcmSeal(dataKey, plaintext)
	if err != nil {
		return nil, err
	}
	out.Write(body)

	return out.Bytes(), nil
}

// Decrypt opens an encrypted payload using whichever key material the
// configuration provides.
func (e *Encryptor) Decrypt(payload []byte) ([]byte, error) {
	if !IsEncryptedPayload(payload) {
		return nil, NewEncryptionError("payload is not an encrypted artifact", nil)
	}
	rest := payload[len(envelopeMagic):]
	if len(rest) < 1 {
		return nil, NewEncryptionError("encrypted payload truncated", nil)
	}
	mode, rest := rest[0], rest[1:]

	switch mode {
	case envelopeModePassphrase:
		return e.decryptWithPassphrase(rest)
	case envelopeModeRecipients:
		return e.decryptForRecipients(rest)
	default:
		return nil, NewEncryptionError(fmt.Sprintf("unknown encryption mode 0x%02x", mode), nil)
	}
}

func (e *Encryptor) decryptWithPassphrase(rest []byte) ([]byte, error) {
	if e.config == nil || e.config.PassphraseFile == "" {
		return nil, NewEncryptionError("artifact is passphrase-encrypted but no passphrase file is configured", nil)
	}
	if len(rest) < passphraseSaltSize {
		return nil, NewEncryptionError("encrypted payload truncated", nil)
	}
	passphrase, err := readPassphrase(e.config.PassphraseFile)
	if err != nil {
		return nil, err
	}

	salt, sealed := rest[:passphraseSaltSize], rest[passphraseSaltSize:]
	key := deriveKey(passphrase, salt)
	return gcmOpen(key, sealed)
}

func (e *Encryptor) decryptForRecipients(rest []byte) ([]byte, error) {
	if len(rest) < 1 {
		return nil, NewEncryptionError("encrypted payload truncated", nil)
	}
	count := int(rest[0])
	rest = rest[1:]

	type wrappedEntry struct {
		name    string
		wrapped []byte
	}
	entries := make([]wrappedEntry, 0, count)
	for i := 0; i < count; i++ {
		if len(rest) < 1 {
			return nil, NewEncryptionError("encrypted payload truncated", nil)
		}
		nameLen := int(rest[0])
		rest = rest[1:]
		if len(rest) < nameLen+2 {
			return nil, NewEncryptionError("encrypted payload truncated", nil)
		}
		name := string(rest[:nameLen])
		wrappedLen := int(binary.BigEndian.Uint16(rest[nameLen : nameLen+2]))
		rest = rest[nameLen+2:]
		if len(rest) < wrappedLen {
			return nil, NewEncryptionError("encrypted payload truncated", nil)
		}
		entries = append(entries, wrappedEntry{name: name, wrapped: rest[:wrappedLen]})
		rest = rest[wrappedLen:]
	}

	if e.config == nil || len(e.config.Recipients) == 0 {
		return nil, NewEncryptionError("artifact is recipient-encrypted but no recipient keys are configured", nil)
	}

	// Prefer the entry matching a configured recipient by name, then fall
	// back to trying every configured key against every entry.
	var dataKey []byte
	for _, recipient := range e.config.Recipients {
		recipientKey, err := loadRecipientKey(recipient)
		if err != nil {
			e.logger.Warn(fmt.Sprintf("Skipping recipient key %s: %v", recipient.Name, err))
			continue
		}
		for _, entry := range entries {
			if entry.name != recipient.Name {
				continue
			}
			if unwrapped, err := gcmOpen(recipientKey, entry.wrapped); err == nil {
				dataKey = unwrapped
			}
		}
		if dataKey != nil {
			break
		}
		for _, entry := range entries {
			if unwrapped, err := gcmOpen(recipientKey, entry.wrapped); err == nil {
				dataKey = unwrapped
				break
			}
		}
		if dataKey != nil {
			break
		}
	}
	if dataKey == nil {
		return nil, NewEncryptionError("no configured recipient key can unwrap this artifact", nil)
	}

	return gcmOpen(dataKey, rest)
}

func (e *Encryptor) loadOrCreatePassphrase() (string, error) {
	if e.config.PassphraseFile == "" {
		return "", NewEncryptionError("encryption enabled but no passphrase file or recipients configured", nil)
	}
	passphrase, err := readPassphrase(e.config.PassphraseFile)
	if err == nil {
		return passphrase, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	// First run with this passphrase file. Generate one and keep it readable
	// only by the owner; losing it makes existing artifacts unrecoverable.
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", NewEncryptionError("failed to generate passphrase", err)
	}
	generated := hex.EncodeToString(raw)
	if err := os.WriteFile(e.config.PassphraseFile, []byte(generated+"\n"), 0600); err != nil {
		return "", NewEncryptionError("failed to write generated passphrase file", err)
	}
	e.logger.Warn(fmt.Sprintf("Generated new encryption passphrase at %s, back it up or artifacts cannot be decrypted", e.config.PassphraseFile))

	return generated, nil
}

func readPassphrase(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", NewEncryptionError("failed to read passphrase file", err)
	}
	passphrase := strings.TrimSpace(string(data))
	if passphrase == "" {
		return "", NewEncryptionError("passphrase file is empty", nil)
	}
	return passphrase, nil
}

// deriveKey derives a 256-bit key with PBKDF2-SHA256 over 100,000 iterations
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, dataKeySize, sha256.New)
}

// loadRecipientKey reads and validates one recipient key file. The file may
// hold 32 raw bytes or their hex encoding.
func loadRecipientKey(recipient Recipient) ([]byte, error) {
	data, err := os.ReadFile(recipient.KeyFile)
	if err != nil {
		return nil, NewEncryptionError(fmt.Sprintf("failed to read key file for recipient %s", recipient.Name), err)
	}

	trimmed := strings.TrimSpace(string(data))
	var key []byte
	if decoded, decodeErr := hex.DecodeString(trimmed); decodeErr == nil && len(decoded) == dataKeySize {
		key = decoded
	} else if len(data) == dataKeySize {
		key = data
	} else {
		return nil, NewEncryptionError(fmt.Sprintf("key file for recipient %s must contain 32 bytes, raw or hex-encoded", recipient.Name), nil)
	}

	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateRecipientKey creates a new random 256-bit key
func GenerateRecipientKey() ([]byte, error) {
	key := make([]byte, dataKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, NewEncryptionError("failed to generate recipient key", err)
	}
	return key, nil
}

// WriteRecipientKeyFile writes a hex-encoded key with owner-only permissions
func WriteRecipientKeyFile(key []byte, path string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		return NewEncryptionError("failed to write recipient key file", err)
	}
	return nil
}

// ValidateKey validates that a key is suitable for AES-256
func ValidateKey(key []byte) error {
	if len(key) != dataKeySize {
		return NewEncryptionError("key must be 32 bytes for AES-256", nil)
	}

	allZeros := true
	allOnes := true
	for _, b := range key {
		if b != 0 {
			allZeros = false
		}
		if b != 0xFF {
			allOnes = false
		}
	}
	if allZeros {
		return NewEncryptionError("key cannot be all zeros", nil)
	}
	if allOnes {
		return NewEncryptionError("key cannot be all ones", nil)
	}
	return nil
}

func gcmSeal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewEncryptionError("failed to create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewEncryptionError("failed to create GCM cipher", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, NewEncryptionError("failed to generate nonce", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func gcmOpen(key, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewEncryptionError("failed to create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewEncryptionError("failed to create GCM cipher", err)
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, NewEncryptionError("encrypted data too short", nil)
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, NewEncryptionError("failed to decrypt data", err)
	}
	return plaintext, nil
}
