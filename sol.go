package mortality

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
)

var ErrBlockhashExpired = errors.New("blockhash expired before confirmation")

type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// Chain is the subset of Solana JSON-RPC the orchestration layer needs.
type Chain interface {
	Balance(ctx context.Context, pubkey solana.PublicKey) (uint64, error)
	LatestBlockhash(ctx context.Context) (Blockhash, error)
	Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	Confirm(ctx context.Context, sig solana.Signature, lastValid uint64) error
	Landed(ctx context.Context, sig solana.Signature) (bool, error)
}

type RPCChain struct {
	client       *rpc.Client
	pollInterval time.Duration
}

// NewChain returns nil for an empty endpoint; callers treat a nil Chain as "not configured".
func NewChain(rpcURL string) Chain {
	if strings.TrimSpace(rpcURL) == "" {
		return nil
	}
	return &RPCChain{
		client:       rpc.New(rpcURL),
		pollInterval: 500 * time.Millisecond,
	}
}

func (c *RPCChain) Balance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	result, err := c.client.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, err
	}
	return result.Value, nil
}

func (c *RPCChain) LatestBlockhash(ctx context.Context) (Blockhash, error) {
	recent, err := c.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return Blockhash{}, fmt.Errorf("blockhash: %w", err)
	}
	return Blockhash{
		Hash:                 recent.Value.Blockhash,
		LastValidBlockHeight: recent.Value.LastValidBlockHeight,
	}, nil
}

func (c *RPCChain) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return c.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
}

// Confirm polls the signature until it is confirmed, fails on chain, or the
// blockhash it was built on can no longer land.
func (c *RPCChain) Confirm(ctx context.Context, sig solana.Signature, lastValid uint64) error {
	for {
		status, err := c.client.GetSignatureStatuses(ctx, false, sig)
		if err == nil && len(status.Value) > 0 && status.Value[0] != nil {
			s := status.Value[0]
			if s.Err != nil {
				return fmt.Errorf("transaction failed: %v", s.Err)
			}
			if s.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				s.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}

		if lastValid > 0 {
			height, err := c.client.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
			if err == nil && height > lastValid {
				return ErrBlockhashExpired
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *RPCChain) Landed(ctx context.Context, sig solana.Signature) (bool, error) {
	status, err := c.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return false, err
	}
	if len(status.Value) == 0 || status.Value[0] == nil {
		return false, nil
	}
	s := status.Value[0]
	if s.Err != nil {
		return false, nil
	}
	return s.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
		s.ConfirmationStatus == rpc.ConfirmationStatusFinalized, nil
}

// buildTransfer assembles one transaction of SOL transfers paid for by payer.
func buildTransfer(payer solana.PublicKey, hash solana.Hash, legs ...transferLeg) (*solana.Transaction, error) {
	instructions := make([]solana.Instruction, 0, len(legs))
	for _, leg := range legs {
		instructions = append(instructions,
			system.NewTransferInstruction(leg.lamports, leg.from, leg.to).Build())
	}

	tx, err := solana.NewTransaction(instructions, hash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("tx: %w", err)
	}
	return tx, nil
}

type transferLeg struct {
	from     solana.PublicKey
	to       solana.PublicKey
	lamports uint64
}

func signWith(tx *solana.Transaction, keys ...solana.PrivateKey) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range keys {
			if keys[i].PublicKey().Equals(key) {
				return &keys[i]
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	return nil
}

// isRentError matches the preflight messages Solana returns when a fee payer
// cannot cover the fee or would be left below rent exemption.
func isRentError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "insufficient funds") ||
		strings.Contains(msg, "insufficientfundsforrent") ||
		strings.Contains(msg, "insufficient lamports")
}
