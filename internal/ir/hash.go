package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix allows
// the algorithm to change without colliding with old hashes.
const (
	DomainModel    = "latentrec/model/v1"
	DomainEvidence = "latentrec/evidence/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ModelHash computes the content-addressed identity of a model spec.
// Factor runs record it so results can be traced to the exact parameters.
func ModelHash(spec ModelSpec) (string, error) {
	canonical, err := MarshalCanonical(spec.canonical())
	if err != nil {
		return "", fmt.Errorf("ModelHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainModel, canonical), nil
}

// EvidenceHash identifies an evidence assignment, keyed by variable name.
// Harness golden files use it to label scenarios independent of ordering.
func EvidenceHash(evidence map[string]int) (string, error) {
	obj := make(map[string]any, len(evidence))
	for k, v := range evidence {
		obj[k] = v
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EvidenceHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEvidence, canonical), nil
}

// MustModelHash is like ModelHash but panics on error.
// Use only in tests or when the model spec is known to be valid.
func MustModelHash(spec ModelSpec) string {
	h, err := ModelHash(spec)
	if err != nil {
		panic(err)
	}
	return h
}
