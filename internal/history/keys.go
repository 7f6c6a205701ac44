package history

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
)

// LoadOrCreateKeyPair loads the Ed25519 keypair under dir, generating and
// persisting one on first use. Adapted from internal/security/signing.go.
func LoadOrCreateKeyPair(dir string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pubPath := filepath.Join(dir, "history_ed25519.pub")
	privPath := filepath.Join(dir, "history_ed25519.key")

	if pub, err := loadPublicKey(pubPath); err == nil {
		priv, err := loadPrivateKey(privPath)
		if err == nil {
			return pub, priv, nil
		}
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, err
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(pub)), 0o600); err != nil {
		return nil, nil, err
	}
	if err := os.WriteFile(privPath, []byte(hex.EncodeToString(priv)), 0o600); err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

func loadPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	keyBytes, err := hex.DecodeString(string(data))
	if err != nil {
		return nil, err
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key size")
	}
	return ed25519.PrivateKey(keyBytes), nil
}

func loadPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	keyBytes, err := hex.DecodeString(string(data))
	if err != nil {
		return nil, err
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return nil, errors.New("invalid public key size")
	}
	return ed25519.PublicKey(keyBytes), nil
}

// SignHash signs hashHex with priv and returns the hex-encoded signature.
func SignHash(priv ed25519.PrivateKey, hashHex string) string {
	sig := ed25519.Sign(priv, []byte(hashHex))
	return hex.EncodeToString(sig)
}

// VerifyHash verifies hashHex's signature against pub.
func VerifyHash(pub ed25519.PublicKey, hashHex, sigHex string) (bool, error) {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, []byte(hashHex), sig), nil
}
