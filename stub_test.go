package mortality

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func init() {
	SetLogOutput(io.Discard)
}

type stubChain struct {
	mu sync.Mutex

	balances   map[solana.PublicKey]uint64
	balanceErr map[solana.PublicKey]error
	// onBalance, when set, runs before every balance lookup.
	onBalance func(pubkey solana.PublicKey)
	// sendDelay holds every Send for a while, to observe batching.
	sendDelay time.Duration
	inFlight  int
	peak      int
	sendTimes []time.Time

	// sendErrs is consumed one entry per Send; a nil entry or an empty queue means success.
	sendErrs []error
	confirm  func(sig solana.Signature) error
	landed   map[solana.Signature]bool

	sent []*solana.Transaction
}

func newStubChain() *stubChain {
	return &stubChain{
		balances:   map[solana.PublicKey]uint64{},
		balanceErr: map[solana.PublicKey]error{},
		landed:     map[solana.Signature]bool{},
	}
}

func (c *stubChain) Balance(_ context.Context, pubkey solana.PublicKey) (uint64, error) {
	c.mu.Lock()
	hook := c.onBalance
	c.mu.Unlock()
	if hook != nil {
		hook(pubkey)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.balanceErr[pubkey]; err != nil {
		return 0, err
	}
	return c.balances[pubkey], nil
}

func (c *stubChain) LatestBlockhash(context.Context) (Blockhash, error) {
	return Blockhash{Hash: solana.Hash{1, 2, 3}, LastValidBlockHeight: 100}, nil
}

func (c *stubChain) Send(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	c.mu.Lock()
	c.inFlight++
	c.peak = max(c.peak, c.inFlight)
	c.sendTimes = append(c.sendTimes, time.Now())
	delay := c.sendDelay
	c.mu.Unlock()

	time.Sleep(delay)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight--
	if len(c.sendErrs) > 0 {
		err := c.sendErrs[0]
		c.sendErrs = c.sendErrs[1:]
		if err != nil {
			return solana.Signature{}, err
		}
	}
	c.sent = append(c.sent, tx)
	return tx.Signatures[0], nil
}

func (c *stubChain) Confirm(_ context.Context, sig solana.Signature, _ uint64) error {
	c.mu.Lock()
	confirm := c.confirm
	c.mu.Unlock()
	if confirm != nil {
		return confirm(sig)
	}
	return nil
}

func (c *stubChain) Landed(_ context.Context, sig solana.Signature) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.landed[sig], nil
}

func (c *stubChain) setBalance(pubkey solana.PublicKey, lamports uint64) {
	c.mu.Lock()
	c.balances[pubkey] = lamports
	c.mu.Unlock()
}

func (c *stubChain) sends() []*solana.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*solana.Transaction, len(c.sent))
	copy(out, c.sent)
	return out
}

type stubRelay struct {
	mu      sync.Mutex
	calls   int
	result  string
	err     error
	encoded []string
}

func (r *stubRelay) SendTransaction(_ context.Context, encoded string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.encoded = append(r.encoded, encoded)
	if r.err != nil {
		return "", r.err
	}
	return r.result, nil
}

var errRPCDown = errors.New("rpc: connection refused")

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

func walletFor(key solana.PrivateKey) Wallet {
	return Wallet{
		PublicKey:  key.PublicKey().String(),
		PrivateKey: key.String(),
		Platform:   NoPlatform,
	}
}

func sol(s string) *string {
	return &s
}

// quickDispatcher runs without any delay between batches or retries.
func quickDispatcher(chain Chain, relay Relay) *Dispatcher {
	d := NewDispatcher(chain, relay, nil, nil)
	d.BatchDelay = 0
	d.RetryDelay = 0
	return d
}
