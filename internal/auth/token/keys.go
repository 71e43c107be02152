package token

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/GandRedZ/RedZ/internal/auth"
)

// Supported signing algorithms.
const (
	AlgHS256 = "HS256"
	AlgRS256 = "RS256"
	AlgES256 = "ES256"
	AlgEdDSA = "EdDSA"
)

// KeyConfig describes where the signing key material comes from.
// Exactly one source applies per algorithm family: an HMAC secret for
// HS256, a PEM key pair for the asymmetric algorithms.
type KeyConfig struct {
	// Algorithm is the single signing algorithm the service accepts.
	Algorithm string `yaml:"algorithm"`

	// SecretEnv names the environment variable holding the HMAC secret.
	SecretEnv string `yaml:"secretEnv,omitempty"`

	// Secret is the HMAC secret. SecretEnv takes precedence.
	Secret string `yaml:"secret,omitempty"`

	// PrivateKeyFile is the path to the PEM-encoded private key.
	PrivateKeyFile string `yaml:"privateKeyFile,omitempty"`

	// PublicKeyFile is the path to the PEM-encoded public key. When
	// empty the public key is derived from the private key.
	PublicKeyFile string `yaml:"publicKeyFile,omitempty"`
}

// KeyPair holds the resolved signing and verification keys.
type KeyPair struct {
	algorithm string
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
}

// Algorithm returns the configured algorithm name.
func (k *KeyPair) Algorithm() string {
	return k.algorithm
}

// LoadKeys resolves the key material for the configured algorithm.
// Any failure here is fatal to startup: the service never runs
// without verifiable keys.
func LoadKeys(cfg KeyConfig) (*KeyPair, error) {
	switch cfg.Algorithm {
	case AlgHS256:
		return loadHMACKey(cfg)
	case AlgRS256:
		return loadRSAKeys(cfg)
	case AlgES256:
		return loadECDSAKeys(cfg)
	case AlgEdDSA:
		return loadEdDSAKeys(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", auth.ErrUnsupportedAlgorithm, cfg.Algorithm)
	}
}

func loadHMACKey(cfg KeyConfig) (*KeyPair, error) {
	secret := cfg.Secret
	if cfg.SecretEnv != "" {
		secret = os.Getenv(cfg.SecretEnv)
	}
	if secret == "" {
		return nil, fmt.Errorf("%w: empty HMAC secret", auth.ErrInvalidKey)
	}

	key := []byte(secret)
	return &KeyPair{
		algorithm: AlgHS256,
		method:    jwt.SigningMethodHS256,
		signKey:   key,
		verifyKey: key,
	}, nil
}

func loadRSAKeys(cfg KeyConfig) (*KeyPair, error) {
	privPEM, err := readKeyFile(cfg.PrivateKeyFile)
	if err != nil {
		return nil, err
	}

	priv, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing RSA private key: %v", auth.ErrInvalidKey, err)
	}

	var pub *rsa.PublicKey
	if cfg.PublicKeyFile != "" {
		pubPEM, err := readKeyFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, err
		}
		pub, err = jwt.ParseRSAPublicKeyFromPEM(pubPEM)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing RSA public key: %v", auth.ErrInvalidKey, err)
		}
	} else {
		pub = &priv.PublicKey
	}

	return &KeyPair{
		algorithm: AlgRS256,
		method:    jwt.SigningMethodRS256,
		signKey:   priv,
		verifyKey: pub,
	}, nil
}

func loadECDSAKeys(cfg KeyConfig) (*KeyPair, error) {
	privPEM, err := readKeyFile(cfg.PrivateKeyFile)
	if err != nil {
		return nil, err
	}

	priv, err := jwt.ParseECPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing ECDSA private key: %v", auth.ErrInvalidKey, err)
	}

	var pub *ecdsa.PublicKey
	if cfg.PublicKeyFile != "" {
		pubPEM, err := readKeyFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, err
		}
		pub, err = jwt.ParseECPublicKeyFromPEM(pubPEM)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing ECDSA public key: %v", auth.ErrInvalidKey, err)
		}
	} else {
		pub = &priv.PublicKey
	}

	return &KeyPair{
		algorithm: AlgES256,
		method:    jwt.SigningMethodES256,
		signKey:   priv,
		verifyKey: pub,
	}, nil
}

func loadEdDSAKeys(cfg KeyConfig) (*KeyPair, error) {
	privPEM, err := readKeyFile(cfg.PrivateKeyFile)
	if err != nil {
		return nil, err
	}

	priv, err := jwt.ParseEdPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing Ed25519 private key: %v", auth.ErrInvalidKey, err)
	}

	edPriv, ok := priv.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an Ed25519 private key", auth.ErrInvalidKey)
	}

	var pub ed25519.PublicKey
	if cfg.PublicKeyFile != "" {
		pubPEM, err := readKeyFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, err
		}
		parsed, err := jwt.ParseEdPublicKeyFromPEM(pubPEM)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing Ed25519 public key: %v", auth.ErrInvalidKey, err)
		}
		pub, ok = parsed.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an Ed25519 public key", auth.ErrInvalidKey)
		}
	} else {
		pub = edPriv.Public().(ed25519.PublicKey)
	}

	return &KeyPair{
		algorithm: AlgEdDSA,
		method:    jwt.SigningMethodEdDSA,
		signKey:   edPriv,
		verifyKey: pub,
	}, nil
}

func readKeyFile(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: key file not configured", auth.ErrKeyNotFound)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", auth.ErrKeyNotFound, path, err)
	}
	return data, nil
}
