package mortality

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/gagliardetto/solana-go"
)

type Outcome int

const (
	OutcomeEmpty Outcome = iota
	OutcomeSuccess
	OutcomePartial
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartial:
		return "partial"
	case OutcomeFailed:
		return "failed"
	default:
		return "empty"
	}
}

// Report summarizes a fan-out. Signatures has one entry per input wallet, ""
// for wallets that were skipped or failed.
type Report struct {
	Total      int
	Succeeded  int
	Skipped    int
	Signatures []string
}

func (r Report) Outcome() Outcome {
	switch {
	case r.Total == 0:
		return OutcomeEmpty
	case r.Succeeded == r.Total:
		return OutcomeSuccess
	case r.Succeeded > 0:
		return OutcomePartial
	default:
		return OutcomeFailed
	}
}

func (r Report) String() string {
	return fmt.Sprintf("%s: %d/%d succeeded, %d skipped", r.Outcome(), r.Succeeded, r.Total, r.Skipped)
}

type DistributeOptions struct {
	Amount uint64
	Random bool
	Min    uint64
	Max    uint64
}

const (
	defaultRandomMin uint64 = 100_000
	defaultRandomMax uint64 = 10_000_000
)

func (o DistributeOptions) amounts(n int) ([]uint64, error) {
	out := make([]uint64, n)
	if !o.Random {
		if o.Amount == 0 {
			return nil, fmt.Errorf("%w: zero amount", ErrInvalidTransfer)
		}
		for i := range out {
			out[i] = o.Amount
		}
		return out, nil
	}

	lo, hi := o.Min, o.Max
	if lo == 0 {
		lo = defaultRandomMin
	}
	if hi == 0 {
		hi = defaultRandomMax
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	for i := range out {
		out[i] = lo + rand.Uint64N(hi-lo+1)
	}
	return out, nil
}

// Distribute sends SOL from funder to every target. Nothing is submitted
// unless the funder's current balance covers all amounts plus fees.
func Distribute(ctx context.Context, d *Dispatcher, funder solana.PrivateKey, targets []Wallet, opts DistributeOptions) (Report, error) {
	report := Report{Signatures: make([]string, len(targets))}
	if d.chain == nil {
		return report, ErrNoRPC
	}
	if funder == nil {
		return report, ErrNoFunder
	}

	amounts, err := opts.amounts(len(targets))
	if err != nil {
		return report, err
	}

	var (
		transfers []Transfer
		index     []int
		total     uint64
		invalid   int
	)
	for i, w := range targets {
		to, err := solana.PublicKeyFromBase58(w.PublicKey)
		if err != nil {
			logger.WithError(err).WithField("wallet", w.PublicKey).Error("invalid destination")
			invalid++
			continue
		}
		transfers = append(transfers, Transfer{From: funder, To: to, Lamports: amounts[i]})
		index = append(index, i)
		total += amounts[i] + FeePerSignature
	}

	balance, err := d.chain.Balance(ctx, funder.PublicKey())
	if err != nil {
		return report, fmt.Errorf("funder balance: %w", err)
	}
	if total > balance {
		return report, fmt.Errorf("%w: need %s SOL, have %s SOL", ErrInsufficientFunds, FormatSOL(total), FormatSOL(balance))
	}

	// Invalid destinations count as failures only once the distribution goes ahead.
	report.Total = invalid + len(transfers)
	collect(&report, index, d.Dispatch(ctx, transfers))
	return report, nil
}

type ReturnOptions struct {
	Funder    solana.PublicKey
	FunderKey solana.PrivateKey
	// FunderPaysFees makes the funder the fee payer from the first attempt.
	// Otherwise each wallet pays its own fee and the funder key, when present,
	// only steps in on rent errors.
	FunderPaysFees bool
}

// ReturnFunds sweeps every wallet with a balance back to the funder. Empty
// wallets are skipped without a transaction.
func ReturnFunds(ctx context.Context, d *Dispatcher, wallets []Wallet, opts ReturnOptions) (Report, error) {
	report := Report{Signatures: make([]string, len(wallets))}
	if d.chain == nil {
		return report, ErrNoRPC
	}
	if opts.Funder.IsZero() {
		if opts.FunderKey == nil {
			return report, ErrNoFunder
		}
		opts.Funder = opts.FunderKey.PublicKey()
	}

	fresh, err := NewRefresher(d.chain, d.metrics).Refresh(ctx, wallets)
	if err != nil {
		return report, fmt.Errorf("refresh balances: %w", err)
	}

	var (
		transfers []Transfer
		index     []int
	)
	for i, w := range fresh {
		balance := BalanceLamports(w.Balance)
		if balance == 0 {
			logger.WithField("wallet", w.PublicKey).Info("no balance to return")
			report.Skipped++
			continue
		}

		key, err := ParsePrivateKey(w.PrivateKey)
		if err != nil {
			logger.WithError(err).WithField("wallet", w.PublicKey).Error("cannot sign for wallet")
			report.Total++
			continue
		}

		t := Transfer{
			From:     key,
			To:       opts.Funder,
			Lamports: balance,
			Sweep:    true,
			Fallback: opts.FunderKey,
		}
		if opts.FunderPaysFees && opts.FunderKey != nil {
			t.Payer = opts.FunderKey
		}
		transfers = append(transfers, t)
		index = append(index, i)
	}

	report.Total += len(transfers)
	collect(&report, index, d.Dispatch(ctx, transfers))
	return report, nil
}

// Upgrade pays the platform fee from the funder for every eligible wallet and
// returns the wallets with Platform and HasTipped set on the ones that landed.
func Upgrade(ctx context.Context, d *Dispatcher, funder solana.PrivateKey, platformKey string, wallets []Wallet) ([]Wallet, Report, error) {
	report := Report{Signatures: make([]string, len(wallets))}
	updated := make([]Wallet, len(wallets))
	copy(updated, wallets)

	platform, ok := GetPlatform(platformKey)
	if !ok || platform.FeeAddress == "" {
		return updated, report, fmt.Errorf("%w: %s", ErrUnknownPlatform, platformKey)
	}
	if d.chain == nil {
		return updated, report, ErrNoRPC
	}
	if funder == nil {
		return updated, report, ErrNoFunder
	}
	feeAddress := solana.MustPublicKeyFromBase58(platform.FeeAddress)

	var (
		transfers []Transfer
		index     []int
	)
	for i, w := range wallets {
		if !HasEnoughBalance(w) {
			report.Skipped++
			continue
		}
		transfers = append(transfers, Transfer{From: funder, To: feeAddress, Lamports: platform.TipLamports, Ref: w.PublicKey})
		index = append(index, i)
	}

	report.Total = len(transfers)
	collect(&report, index, d.Dispatch(ctx, transfers))

	for _, i := range index {
		if report.Signatures[i] == "" {
			continue
		}
		updated[i].Platform = platformKey
		updated[i].HasTipped = true
		logger.WithField("wallet", updated[i].PublicKey).Infof("upgraded to %s", platform.Name)
	}
	return updated, report, nil
}

func collect(report *Report, index []int, sigs []string) {
	for j, sig := range sigs {
		report.Signatures[index[j]] = sig
		if sig != "" {
			report.Succeeded++
		}
	}
}
