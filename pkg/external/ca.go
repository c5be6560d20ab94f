package external

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Credential is opaque identity material issued to a node. The
// orchestrator stores and forwards it but never inspects it.
type Credential struct {
	NodeID   string
	Material []byte
	IssuedAt time.Time
	NotAfter time.Time
}

// Expired reports whether the credential is past its validity window
func (c Credential) Expired(now time.Time) bool {
	return now.After(c.NotAfter)
}

// CertificateAuthority issues and rotates node credentials. The real
// implementation lives outside the orchestrator core.
type CertificateAuthority interface {
	Issue(ctx context.Context, nodeID string) (Credential, error)
	Rotate(ctx context.Context, cred Credential) (Credential, error)
}

// LocalCA issues random opaque material with a fixed validity window.
// It provides node identity in single-binary development mode.
type LocalCA struct {
	Validity time.Duration
}

// NewLocalCA creates a LocalCA with a 90-day validity window
func NewLocalCA() *LocalCA {
	return &LocalCA{Validity: 90 * 24 * time.Hour}
}

// Issue implements CertificateAuthority
func (ca *LocalCA) Issue(_ context.Context, nodeID string) (Credential, error) {
	if nodeID == "" {
		return Credential{}, fmt.Errorf("node ID required")
	}

	material := make([]byte, 32)
	if _, err := rand.Read(material); err != nil {
		return Credential{}, fmt.Errorf("failed to generate credential: %w", err)
	}

	now := time.Now()
	return Credential{
		NodeID:   nodeID,
		Material: []byte(hex.EncodeToString(material)),
		IssuedAt: now,
		NotAfter: now.Add(ca.Validity),
	}, nil
}

// Rotate implements CertificateAuthority
func (ca *LocalCA) Rotate(ctx context.Context, cred Credential) (Credential, error) {
	return ca.Issue(ctx, cred.NodeID)
}
