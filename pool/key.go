package pool

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Key identifies one pool shard. Two identities produce the same Key
// exactly when their provider, tenant, and credential fingerprint all
// match. Keys are used only for sharding, never for authorization.
type Key uint64

// String renders the key as a fixed-width hex string for logging.
func (k Key) String() string {
	return fmt.Sprintf("%016x", uint64(k))
}

// Identity is the logical owner of a pooled connection.
type Identity struct {
	// Provider names the downstream service, e.g. "slack" or "openai".
	Provider string

	// TenantID isolates tenants from each other. Distinct tenants never
	// share a pool even when their credentials happen to collide.
	TenantID string

	// Credentials holds the secret material used to build clients. Only
	// its fingerprint enters the key; the values themselves are never
	// hashed into logs or exported anywhere.
	Credentials map[string]string
}

// Key computes the shard key for this identity. The serialization is
// order-independent: credential map iteration order does not affect the
// result.
func (id Identity) Key() Key {
	h := xxhash.New()
	writeField(h, "provider", id.Provider)
	writeField(h, "tenant", id.TenantID)
	writeField(h, "cred", Fingerprint(id.Credentials))
	return Key(h.Sum64())
}

// Fingerprint returns a stable digest of a credential map. Entries are
// folded in sorted key order so equivalent maps always fingerprint
// identically.
func Fingerprint(creds map[string]string) string {
	if len(creds) == 0 {
		return ""
	}
	keys := make([]string, 0, len(creds))
	for k := range creds {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := xxhash.New()
	for _, k := range keys {
		writeField(h, k, creds[k])
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func writeField(h *xxhash.Digest, name, value string) {
	h.WriteString(name)
	h.Write([]byte{0})
	h.WriteString(value)
	h.Write([]byte{0})
}
