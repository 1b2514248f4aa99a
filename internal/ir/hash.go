package ir

import (
	"encoding/json"
	"fmt"

	"github.com/multiformats/go-multihash"
)

// DomainManifest prefixes manifest bytes before hashing.
// Version suffix enables future algorithm migration.
const DomainManifest = "entitystore/manifest/v1"

// MaxDeploymentIDLength is the length of a base58 sha2-256 multihash.
const MaxDeploymentIDLength = 46

// hashWithDomain computes a sha2-256 multihash with domain separation and
// returns its base58 form ("Qm...").
// Format: multihash(SHA256(domain + 0x00 + data))
func hashWithDomain(domain string, data []byte) (string, error) {
	buf := make([]byte, 0, len(domain)+1+len(data))
	buf = append(buf, domain...)
	buf = append(buf, 0x00)
	buf = append(buf, data...)
	sum, err := multihash.Sum(buf, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return sum.B58String(), nil
}

// DeploymentID computes the content-addressed id of a manifest.
// The id is stable across field order, map order and Unicode normalization.
func DeploymentID(m Manifest) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("DeploymentID: failed to marshal: %w", err)
	}
	canonical, err := CanonicalizeJSON(raw)
	if err != nil {
		return "", fmt.Errorf("DeploymentID: failed to canonicalize: %w", err)
	}
	id, err := hashWithDomain(DomainManifest, canonical)
	if err != nil {
		return "", fmt.Errorf("DeploymentID: failed to hash: %w", err)
	}
	return id, nil
}

// MustDeploymentID is like DeploymentID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDeploymentID(m Manifest) string {
	id, err := DeploymentID(m)
	if err != nil {
		panic(err)
	}
	return id
}

// ValidateDeploymentID checks that id is 1 to 46 ASCII letters or digits.
// Hand-chosen names such as "testsubgraph" are accepted alongside hashes.
func ValidateDeploymentID(id string) error {
	if id == "" {
		return fmt.Errorf("deployment id must not be empty")
	}
	if len(id) > MaxDeploymentIDLength {
		return fmt.Errorf("deployment id %q is longer than %d characters", id, MaxDeploymentIDLength)
	}
	for _, r := range id {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return fmt.Errorf("deployment id %q contains invalid character %q", id, r)
		}
	}
	return nil
}
