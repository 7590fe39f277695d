// Package audit implements the tenant-wide compliance ledger.
//
// Every compliance-relevant action — job mutations, consent changes, erasure —
// is appended as an [Entry] whose checksum chains to the previous entry of the
// same tenant. Tampering with any stored row is detectable by rehashing the
// stored chain with [Ledger.Verify].
//
// Appends for a single tenant are serialised so the chain stays linear;
// writers block only on their own tenant. A failed append is fatal for the
// calling operation: no user-visible action may complete without a durable
// audit row.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrChainBroken is returned by Verify when recomputing the chain yields a
// mismatching checksum.
var ErrChainBroken = errors.New("audit: checksum chain broken")

// Entry is one append-only ledger row.
type Entry struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenant_id"`
	Seq        uint64            `json:"seq"`
	Timestamp  time.Time         `json:"timestamp"`
	Actor      string            `json:"actor"`
	Action     string            `json:"action"`
	EntityKind string            `json:"entity_kind"`
	EntityID   string            `json:"entity_id"`
	Detail     map[string]string `json:"detail,omitempty"`

	PrevChecksum string `json:"prev_checksum"`
	Checksum     string `json:"checksum"`
}

// Query filters a ledger listing.
type Query struct {
	EntityKind string
	EntityID   string
	Action     string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Storage is the persistence surface the ledger needs. Implemented by the
// application store.
type Storage interface {
	// AppendAudit persists e. Entries are immutable once written.
	AppendAudit(ctx context.Context, e Entry) error

	// LastAudit returns the highest-seq entry for the tenant, or nil when the
	// tenant has no entries yet.
	LastAudit(ctx context.Context, tenantID string) (*Entry, error)

	// ListAudit returns entries for the tenant matching q, ordered by seq.
	ListAudit(ctx context.Context, tenantID string, q Query) ([]Entry, error)
}

// Ledger appends and verifies checksum-chained audit entries.
// All methods are safe for concurrent use.
type Ledger struct {
	store Storage
	now   func() time.Time

	mu     sync.Mutex
	chains map[string]*chain
}

// chain is the cached tail of one tenant's ledger.
type chain struct {
	mu     sync.Mutex
	loaded bool
	seq    uint64
	last   string
}

// New creates a Ledger over the given storage.
func New(store Storage) *Ledger {
	return &Ledger{
		store:  store,
		now:    time.Now,
		chains: make(map[string]*chain),
	}
}

// Record appends a new entry for tenantID and returns it with seq and
// checksums assigned. The per-tenant chain lock is held across the storage
// write so concurrent appends cannot fork the chain.
func (l *Ledger) Record(ctx context.Context, tenantID, actor, action, entityKind, entityID string, detail map[string]string) (Entry, error) {
	if tenantID == "" {
		return Entry{}, errors.New("audit: tenant id required")
	}

	c := l.tenantChain(tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		last, err := l.store.LastAudit(ctx, tenantID)
		if err != nil {
			return Entry{}, fmt.Errorf("audit: load chain tail: %w", err)
		}
		if last != nil {
			c.seq = last.Seq
			c.last = last.Checksum
		}
		c.loaded = true
	}

	e := Entry{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Seq:          c.seq + 1,
		Timestamp:    l.now().UTC(),
		Actor:        actor,
		Action:       action,
		EntityKind:   entityKind,
		EntityID:     entityID,
		Detail:       detail,
		PrevChecksum: c.last,
	}
	e.Checksum = checksum(e)

	if err := l.store.AppendAudit(ctx, e); err != nil {
		return Entry{}, fmt.Errorf("audit: append: %w", err)
	}

	c.seq = e.Seq
	c.last = e.Checksum
	return e, nil
}

// Verify rehashes the tenant's stored chain and returns ErrChainBroken on
// the first mismatch. The walk anchors at the oldest retained row's link so
// a chain whose prefix was removed by retention still verifies.
func (l *Ledger) Verify(ctx context.Context, tenantID string) error {
	entries, err := l.store.ListAudit(ctx, tenantID, Query{})
	if err != nil {
		return fmt.Errorf("audit: list for verify: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	prev := entries[0].PrevChecksum
	for i, e := range entries {
		if e.PrevChecksum != prev {
			return fmt.Errorf("%w: entry %d links to %q, want %q", ErrChainBroken, i, e.PrevChecksum, prev)
		}
		if got := checksum(e); got != e.Checksum {
			return fmt.Errorf("%w: entry %d stored %q, recomputed %q", ErrChainBroken, i, e.Checksum, got)
		}
		prev = e.Checksum
	}
	return nil
}

// List returns ledger entries for the tenant matching q.
func (l *Ledger) List(ctx context.Context, tenantID string, q Query) ([]Entry, error) {
	return l.store.ListAudit(ctx, tenantID, q)
}

// tenantChain returns the cached chain tail for tenantID, creating it if
// needed.
func (l *Ledger) tenantChain(tenantID string) *chain {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chains[tenantID]
	if !ok {
		c = &chain{}
		l.chains[tenantID] = c
	}
	return c
}

// checksum computes the hex SHA-256 over the previous checksum and the
// canonical row bytes. Detail keys are hashed in sorted order so the result
// is independent of map iteration.
func checksum(e Entry) string {
	h := sha256.New()
	h.Write([]byte(e.PrevChecksum))

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], e.Seq)
	h.Write(seq[:])

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(e.Timestamp.UnixNano()))
	h.Write(ts[:])

	for _, s := range []string{e.TenantID, e.Actor, e.Action, e.EntityKind, e.EntityID} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	keys := make([]string, 0, len(e.Detail))
	for k := range e.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(e.Detail[k]))
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}
