package mortality

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"
)

const (
	defaultBatchSize        = 5
	defaultBatchDelay       = 500 * time.Millisecond
	defaultRetryDelay       = time.Second
	defaultStandardAttempts = 3
)

// Transfer is one SOL movement. From always signs; Payer, when set, pays the
// fee (and the relay tip) instead of From. Fallback is swapped in as payer
// once if From cannot cover fees or rent. A Sweep transfer treats Lamports as
// the source balance and sends all of it less whatever From must keep for fees.
// Ref tells apart otherwise identical transfers in the signature ledger.
type Transfer struct {
	From     solana.PrivateKey
	To       solana.PublicKey
	Lamports uint64
	Payer    solana.PrivateKey
	Fallback solana.PrivateKey
	Sweep    bool
	Ref      string
}

func (t Transfer) payer() solana.PrivateKey {
	if t.Payer != nil {
		return t.Payer
	}
	return t.From
}

func (t Transfer) selfPaying() bool {
	return t.Payer == nil || t.Payer.PublicKey().Equals(t.From.PublicKey())
}

func (t Transfer) signers() []solana.PrivateKey {
	if t.selfPaying() {
		return []solana.PrivateKey{t.From}
	}
	return []solana.PrivateKey{t.From, t.Payer}
}

func (t Transfer) amount(tip uint64) (uint64, error) {
	if !t.Sweep {
		if t.Lamports == 0 {
			return 0, fmt.Errorf("%w: zero amount", ErrInvalidTransfer)
		}
		return t.Lamports, nil
	}

	var reserve uint64
	if t.selfPaying() {
		reserve = SweepReserve + tip
	}
	if t.Lamports <= reserve {
		return 0, fmt.Errorf("%w: balance %s does not cover fees", ErrInvalidTransfer, FormatSOL(t.Lamports))
	}
	return t.Lamports - reserve, nil
}

func (t Transfer) key() string {
	key := t.From.PublicKey().String() + ">" + t.To.String() + ":" + strconv.FormatUint(t.Lamports, 10)
	if t.Ref != "" {
		key += "#" + t.Ref
	}
	return key
}

// attempt tracks where one transfer is on the submission ladder.
type attempt struct {
	standard  int
	escalated bool
	swapped   bool
}

// Dispatcher submits transfers in batches. Each transfer gets StandardAttempts
// tries through the RPC, then one try through the relay with a tip.
type Dispatcher struct {
	MaxTip           uint64
	BatchSize        int
	BatchDelay       time.Duration
	RetryDelay       time.Duration
	StandardAttempts int

	chain   Chain
	relay   Relay
	tips    *TipOracle
	ledger  *signatureLedger
	metrics *Metrics
	log     *logrus.Entry
}

func NewDispatcher(chain Chain, relay Relay, tips *TipOracle, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		MaxTip:           DefaultMaxTip,
		BatchSize:        defaultBatchSize,
		BatchDelay:       defaultBatchDelay,
		RetryDelay:       defaultRetryDelay,
		StandardAttempts: defaultStandardAttempts,
		chain:            chain,
		relay:            relay,
		tips:             tips,
		ledger:           newSignatureLedger(ledgerSize, ledgerTTL),
		metrics:          metrics,
		log:              logger.WithField("component", "dispatch"),
	}
}

// Dispatch returns one entry per transfer in input order: the signature, or ""
// when the transfer did not land.
func (d *Dispatcher) Dispatch(ctx context.Context, transfers []Transfer) []string {
	results := make([]string, len(transfers))
	if d.chain == nil {
		d.log.Warn("no rpc configured, nothing dispatched")
		return results
	}

	size := max(d.BatchSize, 1)
	for start := 0; start < len(transfers); start += size {
		end := min(start+size, len(transfers))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = d.submit(ctx, transfers[i])
			}(i)
		}
		wg.Wait()

		if end < len(transfers) {
			if err := sleep(ctx, d.BatchDelay); err != nil {
				d.log.WithError(err).Warn("dispatch interrupted")
				break
			}
		}
	}
	return results
}

func (d *Dispatcher) submit(ctx context.Context, t Transfer) string {
	key := t.key()
	entry := d.log.WithFields(logrus.Fields{
		"from": t.From.PublicKey().String(),
		"to":   t.To.String(),
	})

	var a attempt
	for {
		if sig, ok := d.ledger.landed(ctx, d.chain, key); ok {
			entry.WithField("sig", sig).Info("earlier submission landed")
			d.metrics.result("ok")
			return sig
		}
		if ctx.Err() != nil {
			d.metrics.result("fail")
			return ""
		}

		if a.standard >= d.StandardAttempts {
			a.escalated = true
			sig, err := d.viaRelay(ctx, t, key)
			if err != nil {
				entry.WithError(err).Error("relay failed")
				d.metrics.result("fail")
				return ""
			}
			entry.WithField("sig", sig).Info("relay transfer confirmed")
			d.metrics.result("ok")
			return sig
		}

		sig, err := d.viaStandard(ctx, t, key)
		if err == nil {
			entry.WithField("sig", sig).Info("transfer confirmed")
			d.metrics.result("ok")
			return sig
		}
		a.standard++

		if errors.Is(err, ErrInvalidTransfer) {
			entry.WithError(err).Error("transfer rejected")
			d.metrics.result("fail")
			return ""
		}

		if isRentError(err) && !a.swapped && t.Fallback != nil && t.selfPaying() {
			entry.WithError(err).Warn("source cannot cover fees, retrying with fallback payer")
			t.Payer = t.Fallback
			a.swapped = true
			a.standard = 0
			continue
		}

		entry.WithError(err).WithField("attempt", a.standard).Warn("standard transfer failed")
		if a.standard < d.StandardAttempts {
			if err := sleep(ctx, d.RetryDelay); err != nil {
				d.metrics.result("fail")
				return ""
			}
		}
	}
}

func (d *Dispatcher) viaStandard(ctx context.Context, t Transfer, key string) (string, error) {
	amount, err := t.amount(0)
	if err != nil {
		return "", err
	}

	bh, err := d.chain.LatestBlockhash(ctx)
	if err != nil {
		return "", err
	}

	payer := t.payer()
	tx, err := buildTransfer(payer.PublicKey(), bh.Hash, transferLeg{
		from:     t.From.PublicKey(),
		to:       t.To,
		lamports: amount,
	})
	if err != nil {
		return "", err
	}
	if err := signWith(tx, t.signers()...); err != nil {
		return "", err
	}

	d.metrics.attempt("standard")
	sig, err := d.chain.Send(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("send: %w", err)
	}

	if err := d.chain.Confirm(ctx, sig, bh.LastValidBlockHeight); err != nil {
		d.ledger.record(key, sig)
		return "", fmt.Errorf("confirm: %w", err)
	}
	return sig.String(), nil
}

func (d *Dispatcher) viaRelay(ctx context.Context, t Transfer, key string) (string, error) {
	if d.relay == nil {
		return "", errors.New("relay not configured")
	}

	tip := min(DefaultTip, d.maxTip())
	if d.tips != nil {
		tip = d.tips.Tip(ctx, d.maxTip())
	}

	amount, err := t.amount(tip)
	if err != nil {
		return "", err
	}

	bh, err := d.chain.LatestBlockhash(ctx)
	if err != nil {
		return "", err
	}

	payer := t.payer()
	tx, err := buildTransfer(payer.PublicKey(), bh.Hash,
		transferLeg{from: payer.PublicKey(), to: randomTipAccount(), lamports: tip},
		transferLeg{from: t.From.PublicKey(), to: t.To, lamports: amount},
	)
	if err != nil {
		return "", err
	}
	if err := signWith(tx, t.signers()...); err != nil {
		return "", err
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("serialize: %w", err)
	}

	d.metrics.attempt("relay")
	result, err := d.relay.SendTransaction(ctx, base58.Encode(raw))
	if err != nil {
		return "", err
	}

	sig, err := solana.SignatureFromBase58(result)
	if err != nil {
		return "", fmt.Errorf("relay signature: %w", err)
	}

	if err := d.chain.Confirm(ctx, sig, bh.LastValidBlockHeight); err != nil {
		d.ledger.record(key, sig)
		return "", fmt.Errorf("confirm: %w", err)
	}
	return sig.String(), nil
}

func (d *Dispatcher) maxTip() uint64 {
	if d.MaxTip == 0 {
		return DefaultMaxTip
	}
	return d.MaxTip
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
