package identity

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Operator holds the identity the gate acts as. PublicKey is the privileged
// identity that bypasses admission; PrivateKey signs outgoing payment prompts
// and is empty when no key file is configured.
type Operator struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"-"`
}

// CanSign reports whether the operator holds a private key.
func (o *Operator) CanSign() bool {
	return o != nil && o.PrivateKey != ""
}

// GenerateOperator creates a fresh secp256k1 keypair.
func GenerateOperator() (*Operator, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return fromPrivateKey(priv), nil
}

// OperatorFromSecret derives the operator identity from a hex private key.
func OperatorFromSecret(secretHex string) (*Operator, error) {
	secretHex = strings.TrimSpace(secretHex)
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(raw) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", btcec.PrivKeyBytesLen, len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return fromPrivateKey(priv), nil
}

func fromPrivateKey(priv *btcec.PrivateKey) *Operator {
	return &Operator{
		PublicKey:  hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
		PrivateKey: hex.EncodeToString(priv.Serialize()),
	}
}

// LoadOrCreateOperator loads the operator key from path, generating and
// saving a new one on first start.
func LoadOrCreateOperator(path string) (*Operator, error) {
	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return nil, fmt.Errorf("invalid path: directory traversal detected")
	}

	content, err := os.ReadFile(cleaned)
	if os.IsNotExist(err) {
		op, err := GenerateOperator()
		if err != nil {
			return nil, err
		}
		if err := saveOperator(op, cleaned); err != nil {
			return nil, fmt.Errorf("failed to save operator key: %w", err)
		}
		return op, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read operator key file: %w", err)
	}
	return OperatorFromSecret(string(content))
}

// ResolveOperator combines the configured pubkey and key file. The
// configured pubkey wins for the bypass identity; the key file, when set,
// always supplies the signing key.
func ResolveOperator(configuredPubKey, keyFile string) (*Operator, error) {
	configuredPubKey = strings.ToLower(strings.TrimSpace(configuredPubKey))

	if keyFile == "" {
		if configuredPubKey == "" {
			return nil, fmt.Errorf("either an operator pubkey or an operator key file is required")
		}
		if err := checkPubKey(configuredPubKey); err != nil {
			return nil, err
		}
		return &Operator{PublicKey: configuredPubKey}, nil
	}

	op, err := LoadOrCreateOperator(keyFile)
	if err != nil {
		return nil, err
	}
	if configuredPubKey != "" {
		if err := checkPubKey(configuredPubKey); err != nil {
			return nil, err
		}
		op.PublicKey = configuredPubKey
	}
	return op, nil
}

func checkPubKey(pubkey string) error {
	raw, err := hex.DecodeString(pubkey)
	if err != nil {
		return fmt.Errorf("configured public key is not valid hex: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("configured public key must be 32 bytes when decoded, got %d", len(raw))
	}
	return nil
}

func saveOperator(op *Operator, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	// only the private key is stored; the public key is derived on load
	return os.WriteFile(path, []byte(op.PrivateKey+"\n"), 0o600)
}
