package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"kyc-service/internal/config"
	"kyc-service/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

const localKeyID = "local"

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// EncryptedData is an envelope: the value sealed with a data key, and the
// data key sealed with the master key.
type EncryptedData struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek"`
	KeyID          string    `json:"key_id"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

// KMSAPI is the part of the KMS client used for envelope encryption.
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type EncryptionManager struct {
	kms       KMSAPI
	kmsKeyID  string
	useKMS    bool
	masterKey []byte
	keyCache  sync.Map // encrypted DEK -> plaintext DEK
}

type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
}

// NewEncryptionManager uses KMS when enabled. Otherwise data keys are wrapped
// with KMS_LOCAL_MASTER_KEY, or with a random process key in development.
func NewEncryptionManager(cfg *config.Config, kmsClient KMSAPI) (*EncryptionManager, error) {
	em := &EncryptionManager{
		kms:      kmsClient,
		kmsKeyID: cfg.KMS.KeyID,
		useKMS:   cfg.KMS.Enabled,
	}
	if em.useKMS {
		if kmsClient == nil || cfg.KMS.KeyID == "" {
			return nil, fmt.Errorf("kms enabled but client or KMS_KEY_ID missing")
		}
		return em, nil
	}

	if cfg.KMS.LocalMasterKey != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.KMS.LocalMasterKey)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("KMS_LOCAL_MASTER_KEY must be 32 bytes of base64")
		}
		em.masterKey = key
		return em, nil
	}

	if cfg.IsProduction() {
		return nil, fmt.Errorf("production requires KMS or KMS_LOCAL_MASTER_KEY")
	}
	em.masterKey = make([]byte, 32)
	if _, err := rand.Read(em.masterKey); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	util.Warn("No KMS configured, using an ephemeral master key")
	return em, nil
}

func (em *EncryptionManager) GenerateDataKey(ctx context.Context) (*DataKey, error) {
	if !em.useKMS {
		return em.generateLocalKey()
	}

	result, err := em.kms.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(em.kmsKeyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	return &DataKey{
		Plaintext:  result.Plaintext,
		Ciphertext: result.CiphertextBlob,
		KeyID:      em.kmsKeyID,
	}, nil
}

func (em *EncryptionManager) generateLocalKey() (*DataKey, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	wrapped, err := seal(em.masterKey, key)
	if err != nil {
		return nil, err
	}
	return &DataKey{Plaintext: key, Ciphertext: wrapped, KeyID: localKeyID}, nil
}

// EncryptField seals plaintext under a fresh data key.
func (em *EncryptionManager) EncryptField(ctx context.Context, plaintext string) (*EncryptedData, error) {
	dataKey, err := em.GenerateDataKey(ctx)
	if err != nil {
		return nil, err
	}

	sealed, err := seal(dataKey.Plaintext, []byte(plaintext))
	if err != nil {
		return nil, err
	}

	encryptedDEK := base64.StdEncoding.EncodeToString(dataKey.Ciphertext)
	em.keyCache.Store(encryptedDEK, dataKey.Plaintext)

	return &EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(sealed),
		EncryptedDEK:   encryptedDEK,
		KeyID:          dataKey.KeyID,
		Version:        "v1",
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func (em *EncryptionManager) DecryptField(ctx context.Context, data *EncryptedData) (string, error) {
	if cached, ok := em.keyCache.Load(data.EncryptedDEK); ok {
		return decryptValue(data.EncryptedValue, cached.([]byte))
	}

	wrapped, err := base64.StdEncoding.DecodeString(data.EncryptedDEK)
	if err != nil {
		return "", fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
	}

	var dek []byte
	if data.KeyID == localKeyID {
		if em.masterKey == nil {
			return "", fmt.Errorf("%w: no local master key", ErrDecryptionFailed)
		}
		dek, err = open(em.masterKey, wrapped)
		if err != nil {
			return "", err
		}
	} else {
		if em.kms == nil {
			return "", fmt.Errorf("%w: kms not configured", ErrDecryptionFailed)
		}
		result, err := em.kms.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: wrapped})
		if err != nil {
			return "", fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
		}
		dek = result.Plaintext
	}

	em.keyCache.Store(data.EncryptedDEK, dek)
	return decryptValue(data.EncryptedValue, dek)
}

func decryptValue(encoded string, key []byte) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}
	plaintext, err := open(key, sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	nonce, body := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// ClearCache drops cached data keys.
func (em *EncryptionManager) ClearCache() {
	em.keyCache.Range(func(key, _ interface{}) bool {
		em.keyCache.Delete(key)
		return true
	})
}

func (em *EncryptionManager) GetCacheSize() int {
	count := 0
	em.keyCache.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}
