package mortality

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(":memory:", []byte("hunter2"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreWallets(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	a := walletFor(newKey(t))
	b := walletFor(newKey(t))
	b.Balance = sol("0.500000000")
	require.NoError(t, s.SaveWallets(ctx, "alice", []Wallet{a, b}))
	require.NoError(t, s.SaveWallets(ctx, "bob", []Wallet{walletFor(newKey(t))}))

	got, err := s.LoadWallets(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a, got[0])
	assert.Equal(t, b, got[1])

	b.Platform = "PHOTON"
	b.HasTipped = true
	b.Balance = sol("0.400000000")
	require.NoError(t, s.SaveWallets(ctx, "alice", []Wallet{b}))

	got, err = s.LoadWallets(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 2, "save upserts by public key")
	assert.Equal(t, b, got[1])

	require.NoError(t, s.DeleteWallets(ctx, "alice", a.PublicKey))
	got, err = s.LoadWallets(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []Wallet{b}, got)

	require.NoError(t, s.DeleteWallets(ctx, "alice"))
	got, err = s.LoadWallets(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, got)

	other, err := s.LoadWallets(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestStoreSealsPrivateKeys(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()
	w := walletFor(newKey(t))
	require.NoError(t, s.SaveWallets(ctx, "alice", []Wallet{w}))

	var stored string
	require.NoError(t, s.db.QueryRow(`SELECT private_key FROM user_wallets WHERE public_key = ?`, w.PublicKey).Scan(&stored))
	assert.NotEqual(t, w.PrivateKey, stored)
	assert.NotContains(t, stored, w.PrivateKey)
}

func TestStoreMainWallets(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	dev := MainWallet{PublicKey: "dev", PrivateKey: "dev-secret"}
	funder := MainWallet{PublicKey: "fund", PrivateKey: "fund-secret", Balance: sol("2.000000000")}
	require.NoError(t, s.SaveMainWallet(ctx, "alice", Developer, dev))
	require.NoError(t, s.SaveMainWallet(ctx, "alice", Funder, funder))

	replaced := MainWallet{PublicKey: "fund2", PrivateKey: "fund2-secret"}
	require.NoError(t, s.SaveMainWallet(ctx, "alice", Funder, replaced))

	got, err := s.LoadMainWallets(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got.Developer)
	require.NotNil(t, got.Funder)
	assert.Equal(t, dev, *got.Developer)
	assert.Equal(t, replaced, *got.Funder, "one wallet per role")

	require.NoError(t, s.DeleteMainWallet(ctx, "alice", Developer))
	got, err = s.LoadMainWallets(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got.Developer)
	assert.NotNil(t, got.Funder)

	assert.Error(t, s.SaveMainWallet(ctx, "alice", Role("admin"), dev))
}

func TestStoreBackups(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	first, err := s.SaveBackup(ctx, "alice", "generated", []Wallet{walletFor(newKey(t))})
	require.NoError(t, err)
	second, err := s.SaveBackup(ctx, "alice", "", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	backups, err := s.ListBackups(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, second.ID, backups[0].ID, "newest first")
	assert.Empty(t, backups[0].Wallets)
	assert.Equal(t, first.Wallets, backups[1].Wallets)
	assert.Equal(t, "alice", backups[1].UserID)
	assert.Equal(t, "generated", backups[1].Operation)
	assert.Equal(t, "manual", backups[0].Operation)

	none, err := s.ListBackups(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreMainBackups(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	funder := MainWallet{PublicKey: "fund", PrivateKey: "fund-secret", Balance: sol("1.500000000")}
	dev := MainWallet{PublicKey: "dev", PrivateKey: "dev-secret"}

	first, err := s.SaveMainBackup(ctx, "alice", Funder, funder)
	require.NoError(t, err)
	second, err := s.SaveMainBackup(ctx, "alice", Developer, dev)
	require.NoError(t, err)

	_, err = s.SaveMainBackup(ctx, "alice", Role("admin"), dev)
	assert.Error(t, err)

	backups, err := s.ListMainBackups(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, second.ID, backups[0].ID, "newest first")
	assert.Equal(t, Developer, backups[0].Role)
	assert.Equal(t, dev, backups[0].Wallet)
	assert.Equal(t, first.ID, backups[1].ID)
	assert.Equal(t, Funder, backups[1].Role)
	assert.Equal(t, funder, backups[1].Wallet)

	var stored string
	require.NoError(t, s.db.QueryRow(`SELECT wallet FROM main_wallet_backups WHERE id = ?`, first.ID).Scan(&stored))
	assert.NotContains(t, stored, "fund-secret", "backups are sealed")

	none, err := s.ListMainBackups(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreWrongPassphrase(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wallets.db")
	s, err := OpenStore(path, []byte("right"))
	require.NoError(t, err)
	require.NoError(t, s.SaveWallets(context.Background(), "alice", []Wallet{walletFor(newKey(t))}))
	require.NoError(t, s.Close())

	_, err = OpenStore(path, []byte("wrong"))
	assert.ErrorIs(t, err, ErrWrongPassphrase)

	s, err = OpenStore(path, []byte("right"))
	require.NoError(t, err)
	defer s.Close()
	got, err := s.LoadWallets(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
