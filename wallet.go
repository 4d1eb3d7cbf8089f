package mortality

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/tyler-smith/go-bip39"
)

// Generate creates a mnemonic-backed main wallet.
func Generate() (mnemonic string, wallet MainWallet, err error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", MainWallet{}, err
	}

	mnemonic, err = bip39.NewMnemonic(entropy)
	if err != nil {
		return "", MainWallet{}, err
	}

	wallet, err = Recover(mnemonic)
	return mnemonic, wallet, err
}

func Recover(mnemonic string) (MainWallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return MainWallet{}, errors.New("invalid mnemonic")
	}

	seed := bip39.NewSeed(mnemonic, "")
	priv := ed25519.NewKeyFromSeed(seed[:32])

	return MainWallet{
		PublicKey:  base58.Encode(priv.Public().(ed25519.PublicKey)),
		PrivateKey: base58.Encode(priv),
	}, nil
}

// GenerateWallets creates n ephemeral burner wallets. Balance stays nil until
// the first refresh.
func GenerateWallets(n int) ([]Wallet, error) {
	if n <= 0 {
		return nil, nil
	}
	out := make([]Wallet, 0, n)
	for i := 0; i < n; i++ {
		key, err := solana.NewRandomPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("keypair: %w", err)
		}
		out = append(out, Wallet{
			PublicKey:  key.PublicKey().String(),
			PrivateKey: base58.Encode(key),
			Platform:   NoPlatform,
		})
	}
	return out, nil
}

// ParsePrivateKey accepts a base58 encoded 64 byte secret key or a JSON array of 64 bytes.
func ParsePrivateKey(s string) (solana.PrivateKey, error) {
	s = strings.TrimSpace(s)

	if decoded, err := base58.Decode(s); err == nil && len(decoded) == ed25519.PrivateKeySize {
		return solana.PrivateKey(decoded), nil
	}

	var arr []int
	if err := json.Unmarshal([]byte(s), &arr); err == nil && len(arr) == ed25519.PrivateKeySize {
		key := make([]byte, ed25519.PrivateKeySize)
		for i, b := range arr {
			if b < 0 || b > 255 {
				return nil, ErrInvalidPrivateKey
			}
			key[i] = byte(b)
		}
		return solana.PrivateKey(key), nil
	}

	return nil, ErrInvalidPrivateKey
}

func MaskPrivateKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:4] + strings.Repeat("•", 18) + key[len(key)-4:]
}

func FormatSOL(lamports uint64) string {
	return fmt.Sprintf("%d.%09d", lamports/LamportsPerSOL, lamports%LamportsPerSOL)
}

// ParseSOL converts a decimal SOL string into lamports, truncating past 9 decimals.
func ParseSOL(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty amount")
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}

	for len(frac) < 9 {
		frac += "0"
	}
	f, err := strconv.ParseUint(frac[:9], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}

	return w*LamportsPerSOL + f, nil
}

func SOLToLamports(sol float64) uint64 {
	if sol <= 0 {
		return 0
	}
	return uint64(sol*LamportsPerSOL + 0.5)
}

// BalanceLamports reads a stored balance; a missing or malformed balance counts as zero.
func BalanceLamports(balance *string) uint64 {
	if balance == nil {
		return 0
	}
	l, err := ParseSOL(*balance)
	if err != nil {
		return 0
	}
	return l
}

func HasEnoughBalance(w Wallet) bool {
	return w.Balance != nil && BalanceLamports(w.Balance) >= MinUpgradeBalance
}

func seal(data, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, data, nil), nil
}

func open(data, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(data) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := data[:gcm.NonceSize()]
	ciphertext := data[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertext, nil)
}
