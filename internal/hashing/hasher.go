package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"kyc-service/internal/config"
	"kyc-service/internal/util"

	"golang.org/x/crypto/argon2"
)

const algorithmArgon2id = "argon2id-v1"

var (
	ErrInvalidHash      = errors.New("invalid hash format")
	ErrUnknownPepper    = errors.New("pepper version not found")
	ErrUnknownAlgorithm = errors.New("unknown hash algorithm")
	ErrEmptyPassword    = errors.New("password is empty")
	ErrInvalidPepper    = errors.New("invalid pepper entry")
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher derives argon2id credential hashes mixed with a server-side pepper.
// Peppers are versioned so old hashes keep verifying after a rotation.
type Hasher struct {
	params  Argon2Params
	peppers map[int]string
	current int
	mu      sync.RWMutex
}

type HashResult struct {
	Hash          string `json:"hash"`
	Salt          string `json:"salt"`
	PepperVersion int    `json:"pepper_version"`
	Algorithm     string `json:"algorithm"`
}

// NewHasher reads argon2 costs and peppers from config. Without configured
// peppers a random one is generated, which only suits development since
// hashes stop verifying after a restart.
func NewHasher(cfg *config.Config) (*Hasher, error) {
	h := &Hasher{
		params: Argon2Params{
			Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
			Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
			Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
			SaltLength:  16,
			KeyLength:   32,
		},
		peppers: make(map[int]string),
	}

	if strings.TrimSpace(cfg.Hashing.Peppers) == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("%w: PASSWORD_PEPPERS is required in production", ErrInvalidPepper)
		}
		pepper := make([]byte, 32)
		if _, err := rand.Read(pepper); err != nil {
			return nil, fmt.Errorf("failed to generate pepper: %w", err)
		}
		util.Warn("PASSWORD_PEPPERS not set, using an ephemeral pepper")
		h.AddPepper(1, base64.RawURLEncoding.EncodeToString(pepper))
		return h, nil
	}

	for _, entry := range strings.Split(cfg.Hashing.Peppers, ",") {
		version, secret, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || secret == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPepper, entry)
		}
		v, err := strconv.Atoi(version)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("%w: bad version %q", ErrInvalidPepper, version)
		}
		h.AddPepper(v, secret)
	}
	return h, nil
}

// AddPepper registers a pepper. The highest version becomes current.
func (h *Hasher) AddPepper(version int, secret string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peppers[version] = secret
	if version > h.current {
		h.current = version
	}
}

func (h *Hasher) CurrentPepperVersion() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// PepperVersions lists known versions in ascending order.
func (h *Hasher) PepperVersions() []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]int, 0, len(h.peppers))
	for v := range h.peppers {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func (h *Hasher) HashPassword(password string) (*HashResult, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	return h.hashWithPepper(password, "password")
}

func (h *Hasher) VerifyPassword(password string, stored *HashResult) (bool, error) {
	return h.verifyWithPepper(password, stored, "password")
}

// NeedsRehash reports whether a stored hash was made with an older pepper.
func (h *Hasher) NeedsRehash(stored *HashResult) bool {
	return stored.PepperVersion != h.CurrentPepperVersion()
}

func (h *Hasher) hashWithPepper(data, purpose string) (*HashResult, error) {
	h.mu.RLock()
	version := h.current
	pepper := h.peppers[version]
	h.mu.RUnlock()

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	// purpose keeps hashes from being reusable across credential kinds
	key := argon2.IDKey([]byte(data+pepper+purpose), salt,
		h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(key),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: version,
		Algorithm:     algorithmArgon2id,
	}, nil
}

func (h *Hasher) verifyWithPepper(data string, stored *HashResult, purpose string) (bool, error) {
	if stored == nil || stored.Hash == "" {
		return false, ErrInvalidHash
	}
	if stored.Algorithm != "" && stored.Algorithm != algorithmArgon2id {
		return false, ErrUnknownAlgorithm
	}

	h.mu.RLock()
	pepper, ok := h.peppers[stored.PepperVersion]
	h.mu.RUnlock()
	if !ok {
		return false, ErrUnknownPepper
	}

	salt, err := base64.RawURLEncoding.DecodeString(stored.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}
	expected, err := base64.RawURLEncoding.DecodeString(stored.Hash)
	if err != nil {
		return false, ErrInvalidHash
	}

	computed := argon2.IDKey([]byte(data+pepper+purpose), salt,
		h.params.Iterations, h.params.Memory, h.params.Parallelism, uint32(len(expected)))

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}
