package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Classification is the sensitivity tier governing which key protects a
// payload.
type Classification string

const (
	ClassificationPublic       Classification = "public"
	ClassificationInternal     Classification = "internal"
	ClassificationConfidential Classification = "confidential"
	ClassificationRestricted   Classification = "restricted"
)

// AlgorithmAESGCM is the algorithm tag embedded in encrypted envelopes.
const AlgorithmAESGCM = "AES-256-GCM"

var (
	ErrUnknownKey       = errors.New("unknown encryption key")
	ErrInvalidEnvelope  = errors.New("invalid encryption envelope")
	ErrUnknownClass     = errors.New("unknown classification")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Envelope is a self-describing ciphertext container. The embedded key
// id, algorithm and classification let Decrypt select the correct key
// even after rotation. Public payloads are stored in plaintext-marker
// form with no cryptographic operation applied.
type Envelope struct {
	Version        int            `json:"v"`
	Classification Classification `json:"classification"`
	KeyID          string         `json:"key_id,omitempty"`
	Algorithm      string         `json:"algorithm,omitempty"`
	Nonce          []byte         `json:"nonce,omitempty"`
	Data           []byte         `json:"data,omitempty"`
	Plaintext      []byte         `json:"plaintext,omitempty"`
}

// IsEncrypted reports whether the envelope holds ciphertext rather than
// a plaintext-marked payload.
func (e *Envelope) IsEncrypted() bool {
	return e.Classification != ClassificationPublic
}

// Marshal serializes the envelope to its canonical JSON form.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope deserializes an envelope previously produced by Marshal.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidEnvelope, env.Version)
	}
	return &env, nil
}

const envelopeVersion = 1
