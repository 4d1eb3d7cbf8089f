package mortality

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	ledgerSize = 1024
	ledgerTTL  = 2 * time.Minute
)

type ledgerEntry struct {
	sigs     []solana.Signature
	storedAt time.Time
}

// signatureLedger remembers submissions whose confirmation outcome is unknown,
// keyed by transfer. A resubmission first asks the chain whether any of them
// landed after all.
type signatureLedger struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	store *lru.Cache[string, ledgerEntry]
}

func newSignatureLedger(size int, ttl time.Duration) *signatureLedger {
	store, err := lru.New[string, ledgerEntry](size)
	if err != nil {
		return nil
	}
	return &signatureLedger{
		ttl:   ttl,
		now:   time.Now,
		store: store,
	}
}

func (l *signatureLedger) record(key string, sig solana.Signature) {
	if l == nil || key == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store.Get(key)
	if !ok || l.expired(entry) {
		entry = ledgerEntry{}
	}
	entry.sigs = append(entry.sigs, sig)
	entry.storedAt = l.now()
	l.store.Add(key, entry)
}

func (l *signatureLedger) pending(key string) []solana.Signature {
	if l == nil || key == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store.Get(key)
	if !ok {
		return nil
	}
	if l.expired(entry) {
		l.store.Remove(key)
		return nil
	}
	out := make([]solana.Signature, len(entry.sigs))
	copy(out, entry.sigs)
	return out
}

func (l *signatureLedger) forget(key string) {
	if l == nil || key == "" {
		return
	}
	l.mu.Lock()
	l.store.Remove(key)
	l.mu.Unlock()
}

func (l *signatureLedger) expired(entry ledgerEntry) bool {
	return l.ttl > 0 && l.now().Sub(entry.storedAt) > l.ttl
}

// landed reports the first pending signature for key that made it on chain.
func (l *signatureLedger) landed(ctx context.Context, chain Chain, key string) (string, bool) {
	for _, sig := range l.pending(key) {
		ok, err := chain.Landed(ctx, sig)
		if err != nil || !ok {
			continue
		}
		l.forget(key)
		return sig.String(), true
	}
	return "", false
}
