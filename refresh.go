package mortality

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

// Refresher re-reads wallet balances from chain in small batches. Failed
// lookups read as zero rather than stopping the refresh.
type Refresher struct {
	BatchSize  int
	BatchDelay time.Duration

	chain   Chain
	busy    atomic.Bool
	metrics *Metrics
	log     *logrus.Entry
}

func NewRefresher(chain Chain, metrics *Metrics) *Refresher {
	return &Refresher{
		BatchSize:  defaultBatchSize,
		BatchDelay: defaultBatchDelay,
		chain:      chain,
		metrics:    metrics,
		log:        logger.WithField("component", "refresh"),
	}
}

// Refresh returns copies of wallets with fresh balances, in the same order.
// If ctx is cancelled between batches it stops and returns ctx.Err(); the
// wallets it did not reach keep the balance they came in with, so the result
// must not be trusted as a whole.
func (r *Refresher) Refresh(ctx context.Context, wallets []Wallet) ([]Wallet, error) {
	out := make([]Wallet, len(wallets))
	copy(out, wallets)
	if r.chain == nil {
		return out, nil
	}

	size := max(r.BatchSize, 1)
	for start := 0; start < len(out); start += size {
		end := min(start+size, len(out))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				balance := FormatSOL(r.balance(ctx, out[i].PublicKey))
				out[i].Balance = &balance
			}(i)
		}
		wg.Wait()
		r.metrics.refreshed(end - start)

		if end < len(out) {
			if err := sleep(ctx, r.BatchDelay); err != nil {
				r.log.WithError(err).WithField("left", len(out)-end).Warn("refresh interrupted")
				return out, err
			}
		}
	}
	return out, nil
}

// RefreshAll refreshes generated and main wallets. If another RefreshAll is
// still running it returns the snapshot untouched and false. An interrupted
// refresh returns the snapshot untouched, true and the context error.
func (r *Refresher) RefreshAll(ctx context.Context, snap Snapshot) (Snapshot, bool, error) {
	if r.chain == nil {
		return snap, false, nil
	}
	if !r.busy.CompareAndSwap(false, true) {
		r.log.Debug("refresh already running")
		return snap, false, nil
	}
	defer r.busy.Store(false)

	out := Snapshot{Wallets: snap.Wallets}
	if len(snap.Wallets) > 0 {
		wallets, err := r.Refresh(ctx, snap.Wallets)
		if err != nil {
			return snap, true, err
		}
		out.Wallets = wallets
	}
	out.Developer = r.refreshMain(ctx, snap.Developer)
	out.Funder = r.refreshMain(ctx, snap.Funder)
	if err := ctx.Err(); err != nil {
		return snap, true, err
	}
	return out, true, nil
}

func (r *Refresher) refreshMain(ctx context.Context, w *MainWallet) *MainWallet {
	if w == nil || w.PublicKey == "" {
		return w
	}
	updated := *w
	balance := FormatSOL(r.balance(ctx, w.PublicKey))
	updated.Balance = &balance
	return &updated
}

func (r *Refresher) balance(ctx context.Context, address string) uint64 {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		r.log.WithError(err).WithField("wallet", address).Error("invalid public key")
		r.metrics.balanceError()
		return 0
	}

	lamports, err := r.chain.Balance(ctx, pubkey)
	if err != nil {
		r.log.WithError(err).WithField("wallet", address).Error("balance query failed")
		r.metrics.balanceError()
		return 0
	}
	return lamports
}
