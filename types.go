package mortality

import (
	"errors"
	"time"
)

type Wallet struct {
	PublicKey  string  `json:"publicKey"`
	PrivateKey string  `json:"privateKey"`
	Balance    *string `json:"balance"`
	Platform   string  `json:"platform,omitempty"`
	HasTipped  bool    `json:"hasTipped,omitempty"`
}

type Role string

const (
	Developer Role = "developer"
	Funder    Role = "funder"
)

func (r Role) Valid() bool {
	return r == Developer || r == Funder
}

type MainWallet struct {
	PublicKey  string  `json:"publicKey"`
	PrivateKey string  `json:"privateKey"`
	Balance    *string `json:"balance"`
}

type MainWallets struct {
	Developer *MainWallet
	Funder    *MainWallet
}

// Snapshot is everything a user owns that a refresh touches.
type Snapshot struct {
	Wallets   []Wallet
	Developer *MainWallet
	Funder    *MainWallet
}

type Backup struct {
	ID        string
	UserID    string
	// Operation names what produced the snapshot, e.g. "manual" or "generated".
	Operation string
	Wallets   []Wallet
	CreatedAt time.Time
}

// MainBackup is a sealed copy of one developer or funder wallet.
type MainBackup struct {
	ID        string
	UserID    string
	Role      Role
	Wallet    MainWallet
	CreatedAt time.Time
}

type Config struct {
	RPC         string
	BlockEngine string
	TipFloorURL string
	MaxTip      float64
	DbPath      string
	User        string
	Listen      string
}

const (
	MainnetRPC  = "https://api.mainnet-beta.solana.com"
	DevnetRPC   = "https://api.devnet.solana.com"
	BlockEngine = "https://mainnet.block-engine.jito.wtf"
	TipFloorURL = "https://bundles.jito.wtf/api/v1/bundles/tip_floor"

	LamportsPerSOL = 1_000_000_000

	// MaxWallets caps generated wallets per user.
	MaxWallets = 100

	// MinUpgradeBalance is the smallest balance (0.0001 SOL) a wallet needs to be upgraded.
	MinUpgradeBalance uint64 = 100_000

	// FeePerSignature is the flat fee estimate reserved per transfer.
	FeePerSignature uint64 = 5000

	// SweepReserve is kept back when a wallet pays its own fee while sweeping.
	SweepReserve = FeePerSignature * 10

	DefaultMaxTip uint64 = 500_000
	DefaultTip    uint64 = 100_000
)

const NoPlatform = "NONE"

type Platform struct {
	Name                      string
	FeeAddress                string
	TipLamports               uint64
	RequiresTipPerTransaction bool
}

var Platforms = map[string]Platform{
	"TROJAN": {
		Name:                      "Trojan",
		FeeAddress:                "9yMwSPk9mrXSN7yDHUuZurAh1sjbJsfpUqjZ7SvVtdco",
		TipLamports:               1,
		RequiresTipPerTransaction: true,
	},
	"BULLX": {
		Name:        "BullX",
		FeeAddress:  "9RYJ3qr5eU5xAooqVcbmdeusjcViL5Nkiq7Gske3tiKq",
		TipLamports: 1,
	},
	"PHOTON": {
		Name:                      "Photon",
		FeeAddress:                "AVUCZyuT35YSuj4RH7fwiyPu82Djn2Hfg7y2ND2XcnZH",
		TipLamports:               1,
		RequiresTipPerTransaction: true,
	},
	"GMGN": {
		Name:                      "GMGN",
		FeeAddress:                "BB5dnY55FXS1e1NXqZDwCzgdYJdMCj3B92PU6Q5Fb6DT",
		TipLamports:               1,
		RequiresTipPerTransaction: true,
	},
	NoPlatform: {
		Name: "Regular",
	},
}

func GetPlatform(key string) (Platform, bool) {
	p, ok := Platforms[key]
	return p, ok
}

var (
	ErrInvalidPrivateKey = errors.New("Invalid private key format")
	ErrInsufficientFunds = errors.New("insufficient funder balance")
	ErrUnknownPlatform   = errors.New("unknown platform")
	ErrNoFunder          = errors.New("no funder wallet")
	ErrNoRPC             = errors.New("rpc url not configured")
	ErrWalletLimit       = errors.New("wallet limit exceeded")
	ErrInvalidTransfer   = errors.New("invalid transfer")
)
