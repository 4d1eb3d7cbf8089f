package mortality

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type fileShape int

const (
	shapeUnknown fileShape = iota
	shapeArray
	shapeWallets
	shapeGenerated
)

type walletRecord struct {
	PublicKey       string `json:"publicKey"`
	Pubkey          string `json:"pubkey"`
	PublicKeySnake  string `json:"public_key"`
	PrivateKey      string `json:"privateKey"`
	SecretKey       string `json:"secretKey"`
	SecretKeySnake  string `json:"secret_key"`
	PrivateKeySnake string `json:"private_key"`
	Platform        string `json:"platform"`
	HasTipped       bool   `json:"hasTipped"`
}

func (r walletRecord) wallet() Wallet {
	platform := r.Platform
	if platform == "" {
		platform = NoPlatform
	}
	return Wallet{
		PublicKey:  first(r.PublicKey, r.Pubkey, r.PublicKeySnake),
		PrivateKey: first(r.PrivateKey, r.SecretKey, r.SecretKeySnake, r.PrivateKeySnake),
		Platform:   platform,
		HasTipped:  r.HasTipped,
	}
}

type walletFile struct {
	Wallets   json.RawMessage `json:"wallets"`
	Generated json.RawMessage `json:"generated"`
}

// ParseWalletFile normalizes an exported wallet file. Accepted shapes are a bare
// array, {"wallets": [...]} and {"generated": [...]}. Entries without both keys
// are dropped; balances are cleared so the caller refreshes them.
func ParseWalletFile(data []byte) ([]Wallet, error) {
	shape, list, err := detectShape(data)
	if err != nil {
		return nil, err
	}
	if shape == shapeUnknown {
		return nil, errors.New("unrecognized wallet file")
	}

	var records []walletRecord
	if err := json.Unmarshal(list, &records); err != nil {
		return nil, fmt.Errorf("wallet list: %w", err)
	}

	out := make([]Wallet, 0, len(records))
	for _, r := range records {
		w := r.wallet()
		if w.PublicKey == "" || w.PrivateKey == "" {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func detectShape(data []byte) (fileShape, json.RawMessage, error) {
	var doc json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return shapeUnknown, nil, fmt.Errorf("wallet file: %w", err)
	}

	if trimmed := bytes.TrimLeft(doc, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '[' {
		return shapeArray, doc, nil
	}

	var f walletFile
	if err := json.Unmarshal(doc, &f); err != nil {
		return shapeUnknown, nil, nil
	}
	if len(f.Wallets) > 0 && string(f.Wallets) != "null" {
		return shapeWallets, f.Wallets, nil
	}
	if len(f.Generated) > 0 && string(f.Generated) != "null" {
		return shapeGenerated, f.Generated, nil
	}
	return shapeUnknown, nil, nil
}

// ExportWallets writes wallets in the {"wallets": [...]} shape.
func ExportWallets(wallets []Wallet) ([]byte, error) {
	if wallets == nil {
		wallets = []Wallet{}
	}
	return json.MarshalIndent(struct {
		Wallets []Wallet `json:"wallets"`
	}{wallets}, "", "  ")
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
