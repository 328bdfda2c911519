package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ErrUnauthorized indicates authentication failure.
var ErrUnauthorized = fmt.Errorf("differential/api: unauthorized")

// AccessResolver turns a presented credential into the owner hash every
// store query is scoped by.
type AccessResolver interface {
	ResolveOwner(ctx context.Context, token string) (string, error)
}

// ── Secret-hash resolver ────────────────────────────

// SecretHashResolver derives the owner from the credential itself: the
// owner hash is the hex SHA-256 of the presented secret. Two machines
// holding the same secret land in the same tenant; nothing else about
// the secret is stored.
type SecretHashResolver struct{}

// ResolveOwner implements AccessResolver.
func (SecretHashResolver) ResolveOwner(_ context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrUnauthorized
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:]), nil
}

// ── Static resolver ─────────────────────────────────

// StaticEntry maps a token to an owner hash.
type StaticEntry struct {
	Token     string
	OwnerHash string
}

// StaticResolver validates tokens against a fixed list. Use in tests
// and single-tenant deployments.
type StaticResolver struct {
	owners map[string]string
}

// NewStaticResolver creates a static resolver.
func NewStaticResolver(entries ...StaticEntry) *StaticResolver {
	owners := make(map[string]string, len(entries))
	for _, e := range entries {
		owners[e.Token] = e.OwnerHash
	}
	return &StaticResolver{owners: owners}
}

// ResolveOwner implements AccessResolver.
func (r *StaticResolver) ResolveOwner(_ context.Context, token string) (string, error) {
	owner, ok := r.owners[token]
	if !ok {
		return "", ErrUnauthorized
	}
	return owner, nil
}

// bearerToken strips the Bearer prefix from an Authorization header
// value. A bare token is accepted too.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}
