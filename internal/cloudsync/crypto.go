// Package cloudsync pushes and pulls encrypted report payloads to a remote
// key-value endpoint. Payloads are sealed with AES-256-GCM under a key
// derived from the user's passphrase; the endpoint never sees plaintext.
package cloudsync

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

	"golang.org/x/crypto/pbkdf2"
)

// Key derivation parameters, chosen to stay compatible with Web Crypto API
// defaults so a browser can decrypt the payload.
const (
	keyDerivationIterations = 100000
	saltLength              = 16
	nonceLength             = 12
	keyLength               = 32
)

const (
	emptyPassphraseMessage  = "passphrase is required"
	nonceSizeMismatchError  = "stored nonce has unexpected length"
	marshalPayloadErrFormat = "marshal payload: %w"
	encryptErrFormat        = "encrypt payload: %w"
	decryptErrFormat        = "decrypt payload: %w"
	decodeFieldErrFormat    = "decode %s: %w"
	unmarshalErrFormat      = "unmarshal decrypted payload: %w"
	saltFieldName           = "salt"
	nonceFieldName          = "iv"
	ciphertextFieldName     = "encrypted_data"
)

// EncryptedPayload carries one sealed document plus the parameters needed to
// derive its key again.
type EncryptedPayload struct {
	EncryptedData string `json:"encrypted_data"`
	Salt          string `json:"salt"`
	IV            string `json:"iv"`
}

// DeriveKeyHash produces the lookup identifier for a passphrase. This is not
// the encryption key; it only addresses the remote record.
func DeriveKeyHash(passphrase string) string {
	digest := sha256.Sum256([]byte(passphrase))
	return hex.EncodeToString(digest[:])
}

// EncryptPayload seals a JSON-serializable document with the passphrase.
func EncryptPayload(document any, passphrase string) (EncryptedPayload, error) {
	if passphrase == "" {
		return EncryptedPayload{}, errors.New(emptyPassphraseMessage)
	}

	plaintext, err := json.Marshal(document)
	if err != nil {
		return EncryptedPayload{}, fmt.Errorf(marshalPayloadErrFormat, err)
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return EncryptedPayload{}, fmt.Errorf(encryptErrFormat, err)
	}
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return EncryptedPayload{}, fmt.Errorf(encryptErrFormat, err)
	}

	sealer, err := newSealer(passphrase, salt)
	if err != nil {
		return EncryptedPayload{}, fmt.Errorf(encryptErrFormat, err)
	}

	ciphertext := sealer.Seal(nil, nonce, plaintext, nil)
	return EncryptedPayload{
		EncryptedData: base64.StdEncoding.EncodeToString(ciphertext),
		Salt:          base64.StdEncoding.EncodeToString(salt),
		IV:            base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// DecryptPayload opens a sealed document into target.
func DecryptPayload(payload EncryptedPayload, passphrase string, target any) error {
	if passphrase == "" {
		return errors.New(emptyPassphraseMessage)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(payload.EncryptedData)
	if err != nil {
		return fmt.Errorf(decodeFieldErrFormat, ciphertextFieldName, err)
	}
	salt, err := base64.StdEncoding.DecodeString(payload.Salt)
	if err != nil {
		return fmt.Errorf(decodeFieldErrFormat, saltFieldName, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(payload.IV)
	if err != nil {
		return fmt.Errorf(decodeFieldErrFormat, nonceFieldName, err)
	}
	if len(nonce) != nonceLength {
		return errors.New(nonceSizeMismatchError)
	}

	sealer, err := newSealer(passphrase, salt)
	if err != nil {
		return fmt.Errorf(decryptErrFormat, err)
	}
	plaintext, err := sealer.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf(decryptErrFormat, err)
	}
	if err := json.Unmarshal(plaintext, target); err != nil {
		return fmt.Errorf(unmarshalErrFormat, err)
	}
	return nil
}

func newSealer(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, keyDerivationIterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
