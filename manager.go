package mortality

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

// Manager is one user's wallet session. Every mutation is followed by a
// balance refresh and a save, so the in-memory view matches the store.
type Manager struct {
	UserID string

	store      *Store
	refresher  *Refresher
	dispatcher *Dispatcher
	tips       *TipOracle
	log        *logrus.Entry

	mu      sync.Mutex
	wallets []Wallet
	main    MainWallets
}

func NewManager(userID string, store *Store, chain Chain, relay Relay, tips *TipOracle, metrics *Metrics) *Manager {
	return &Manager{
		UserID:     userID,
		store:      store,
		refresher:  NewRefresher(chain, metrics),
		dispatcher: NewDispatcher(chain, relay, tips, metrics),
		tips:       tips,
		log:        logger.WithField("user", userID),
	}
}

// Open wires a Manager from configuration: RPC chain, Jito relay, tip oracle and store.
func Open(cfg Config, passphrase []byte, metrics *Metrics) (*Manager, error) {
	store, err := OpenStore(cfg.DbPath, passphrase)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	tips := NewTipOracle(cfg.TipFloorURL, metrics)
	m := NewManager(cfg.User, store, NewChain(cfg.RPC), NewJitoRelay(cfg.BlockEngine), tips, metrics)
	if cfg.MaxTip > 0 {
		m.dispatcher.MaxTip = SOLToLamports(cfg.MaxTip)
	}
	return m, nil
}

func (m *Manager) Close() error {
	return m.store.Close()
}

func (m *Manager) Load(ctx context.Context) error {
	wallets, err := m.store.LoadWallets(ctx, m.UserID)
	if err != nil {
		return fmt.Errorf("load wallets: %w", err)
	}
	main, err := m.store.LoadMainWallets(ctx, m.UserID)
	if err != nil {
		return fmt.Errorf("load main wallets: %w", err)
	}

	m.mu.Lock()
	m.wallets = wallets
	m.main = main
	m.mu.Unlock()
	return nil
}

func (m *Manager) Wallets() []Wallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Wallet, len(m.wallets))
	copy(out, m.wallets)
	return out
}

func (m *Manager) MainWallets() MainWallets {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.main
}

// Generate adds n fresh burner wallets, refusing to go over MaxWallets.
func (m *Manager) Generate(ctx context.Context, n int) ([]Wallet, error) {
	m.mu.Lock()
	have := len(m.wallets)
	m.mu.Unlock()

	if n <= 0 {
		return nil, fmt.Errorf("wallet count must be positive")
	}
	if have+n > MaxWallets {
		return nil, fmt.Errorf("%w: have %d, max %d", ErrWalletLimit, have, MaxWallets)
	}

	fresh, err := GenerateWallets(n)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveWallets(ctx, m.UserID, fresh); err != nil {
		return nil, fmt.Errorf("save wallets: %w", err)
	}

	m.mu.Lock()
	m.wallets = append(m.wallets, fresh...)
	m.mu.Unlock()

	m.log.WithField("count", n).Info("wallets generated")
	return fresh, nil
}

// ImportMainWallet sets the developer or funder wallet from a private key.
func (m *Manager) ImportMainWallet(ctx context.Context, role Role, privateKey string) (MainWallet, error) {
	if !role.Valid() {
		return MainWallet{}, fmt.Errorf("unknown role %q", role)
	}
	key, err := ParsePrivateKey(privateKey)
	if err != nil {
		return MainWallet{}, err
	}

	w := MainWallet{
		PublicKey:  key.PublicKey().String(),
		PrivateKey: key.String(),
	}

	m.mu.Lock()
	other := m.main.Funder
	if role == Funder {
		other = m.main.Developer
	}
	m.mu.Unlock()
	if other != nil && other.PublicKey == w.PublicKey {
		m.log.WithField("wallet", w.PublicKey).Warn("same key already used for the other role")
	}

	if err := m.store.SaveMainWallet(ctx, m.UserID, role, w); err != nil {
		return MainWallet{}, fmt.Errorf("save %s wallet: %w", role, err)
	}

	m.mu.Lock()
	if role == Developer {
		m.main.Developer = &w
	} else {
		m.main.Funder = &w
	}
	m.mu.Unlock()

	if _, err := m.Refresh(ctx); err != nil {
		return w, err
	}
	return *m.mainWallet(role), nil
}

func (m *Manager) RemoveMainWallet(ctx context.Context, role Role) error {
	if err := m.store.DeleteMainWallet(ctx, m.UserID, role); err != nil {
		return err
	}
	m.mu.Lock()
	if role == Developer {
		m.main.Developer = nil
	} else {
		m.main.Funder = nil
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) mainWallet(role Role) *MainWallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	if role == Developer {
		return m.main.Developer
	}
	return m.main.Funder
}

// ImportWallets adds wallets from an export file, skipping ones already present.
func (m *Manager) ImportWallets(ctx context.Context, data []byte) (int, error) {
	parsed, err := ParseWalletFile(data)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	seen := make(map[string]bool, len(m.wallets))
	for _, w := range m.wallets {
		seen[w.PublicKey] = true
	}
	have := len(m.wallets)
	m.mu.Unlock()

	var fresh []Wallet
	for _, w := range parsed {
		if seen[w.PublicKey] {
			continue
		}
		key, err := ParsePrivateKey(w.PrivateKey)
		if err != nil || key.PublicKey().String() != w.PublicKey {
			m.log.WithField("wallet", w.PublicKey).Warn("skipping wallet with mismatched key")
			continue
		}
		seen[w.PublicKey] = true
		fresh = append(fresh, w)
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if have+len(fresh) > MaxWallets {
		return 0, fmt.Errorf("%w: have %d, importing %d, max %d", ErrWalletLimit, have, len(fresh), MaxWallets)
	}

	if err := m.store.SaveWallets(ctx, m.UserID, fresh); err != nil {
		return 0, fmt.Errorf("save wallets: %w", err)
	}
	m.mu.Lock()
	m.wallets = append(m.wallets, fresh...)
	m.mu.Unlock()

	if _, err := m.Refresh(ctx); err != nil {
		return len(fresh), err
	}
	return len(fresh), nil
}

func (m *Manager) Export() ([]byte, error) {
	return ExportWallets(m.Wallets())
}

// Refresh re-reads every balance and saves the result. It reports false when
// nothing was refreshed, either because no RPC is configured or another
// refresh is still running. An interrupted refresh is discarded whole.
func (m *Manager) Refresh(ctx context.Context) (bool, error) {
	m.mu.Lock()
	wallets := make([]Wallet, len(m.wallets))
	copy(wallets, m.wallets)
	snap := Snapshot{Wallets: wallets, Developer: m.main.Developer, Funder: m.main.Funder}
	m.mu.Unlock()

	fresh, ok, err := m.refresher.RefreshAll(ctx, snap)
	if err != nil {
		return false, fmt.Errorf("refresh interrupted: %w", err)
	}
	if !ok {
		return false, nil
	}

	m.mu.Lock()
	m.wallets = merge(m.wallets, fresh.Wallets)
	m.main.Developer = mergeMain(m.main.Developer, fresh.Developer)
	m.main.Funder = mergeMain(m.main.Funder, fresh.Funder)
	merged := make([]Wallet, len(m.wallets))
	copy(merged, m.wallets)
	current := m.main
	m.mu.Unlock()

	// Persist the merged view rather than the refreshed copy, so wallets and
	// main wallets changed while the refresh ran are not undone.
	if err := m.store.SaveWallets(ctx, m.UserID, merged); err != nil {
		return true, fmt.Errorf("save wallets: %w", err)
	}
	for _, entry := range []struct {
		role         Role
		now, updated *MainWallet
	}{{Developer, current.Developer, fresh.Developer}, {Funder, current.Funder, fresh.Funder}} {
		if entry.now == nil || entry.updated == nil || entry.now.PublicKey != entry.updated.PublicKey {
			continue
		}
		if err := m.store.SaveMainWallet(ctx, m.UserID, entry.role, *entry.now); err != nil {
			return true, fmt.Errorf("save %s wallet: %w", entry.role, err)
		}
	}
	return true, nil
}

// mergeMain takes the refreshed balance only when the role still holds the
// same wallet that was refreshed.
func mergeMain(current, fresh *MainWallet) *MainWallet {
	if current == nil || fresh == nil || current.PublicKey != fresh.PublicKey {
		return current
	}
	out := *current
	out.Balance = fresh.Balance
	return &out
}

// merge applies refreshed balances to current wallets, leaving any wallet
// added or removed during the refresh alone.
func merge(current, fresh []Wallet) []Wallet {
	balances := make(map[string]*string, len(fresh))
	for _, w := range fresh {
		balances[w.PublicKey] = w.Balance
	}
	out := make([]Wallet, len(current))
	for i, w := range current {
		if b, ok := balances[w.PublicKey]; ok {
			w.Balance = b
		}
		out[i] = w
	}
	return out
}

func (m *Manager) funderKey() (solana.PrivateKey, error) {
	f := m.mainWallet(Funder)
	if f == nil {
		return nil, ErrNoFunder
	}
	return ParsePrivateKey(f.PrivateKey)
}

// selected returns the wallets with the given public keys, or all wallets when none are given.
func (m *Manager) selected(publicKeys []string) []Wallet {
	all := m.Wallets()
	if len(publicKeys) == 0 {
		return all
	}
	want := make(map[string]bool, len(publicKeys))
	for _, pk := range publicKeys {
		want[pk] = true
	}
	var out []Wallet
	for _, w := range all {
		if want[w.PublicKey] {
			out = append(out, w)
		}
	}
	return out
}

// Distribute funds the selected wallets from the funder wallet.
func (m *Manager) Distribute(ctx context.Context, opts DistributeOptions, publicKeys ...string) (Report, error) {
	funder, err := m.funderKey()
	if err != nil {
		return Report{}, err
	}

	report, err := Distribute(ctx, m.dispatcher, funder, m.selected(publicKeys), opts)
	if err != nil {
		return report, err
	}
	m.log.WithField("result", report.String()).Info("distribute finished")

	_, err = m.Refresh(ctx)
	return report, err
}

// Return sweeps the selected wallets back to the funder wallet.
func (m *Manager) Return(ctx context.Context, funderPaysFees bool, publicKeys ...string) (Report, error) {
	funder, err := m.funderKey()
	if err != nil {
		return Report{}, err
	}

	report, err := ReturnFunds(ctx, m.dispatcher, m.selected(publicKeys), ReturnOptions{
		Funder:         funder.PublicKey(),
		FunderKey:      funder,
		FunderPaysFees: funderPaysFees,
	})
	if err != nil {
		return report, err
	}
	m.log.WithField("result", report.String()).Info("return finished")

	_, err = m.Refresh(ctx)
	return report, err
}

// Upgrade pays the platform fee for the selected wallets and records the platform.
func (m *Manager) Upgrade(ctx context.Context, platform string, publicKeys ...string) (Report, error) {
	funder, err := m.funderKey()
	if err != nil {
		return Report{}, err
	}

	updated, report, err := Upgrade(ctx, m.dispatcher, funder, platform, m.selected(publicKeys))
	if err != nil {
		return report, err
	}

	var tipped []Wallet
	for i, w := range updated {
		if report.Signatures[i] != "" {
			tipped = append(tipped, w)
		}
	}
	if len(tipped) > 0 {
		if err := m.store.SaveWallets(ctx, m.UserID, tipped); err != nil {
			return report, fmt.Errorf("save wallets: %w", err)
		}
		m.mu.Lock()
		m.wallets = applyPlatform(m.wallets, tipped)
		m.mu.Unlock()
	}
	m.log.WithField("result", report.String()).Infof("upgrade to %s finished", platform)

	_, err = m.Refresh(ctx)
	return report, err
}

func applyPlatform(current, tipped []Wallet) []Wallet {
	byKey := make(map[string]Wallet, len(tipped))
	for _, w := range tipped {
		byKey[w.PublicKey] = w
	}
	out := make([]Wallet, len(current))
	for i, w := range current {
		if t, ok := byKey[w.PublicKey]; ok {
			w.Platform = t.Platform
			w.HasTipped = t.HasTipped
		}
		out[i] = w
	}
	return out
}

func (m *Manager) DeleteWallet(ctx context.Context, publicKey string) error {
	if err := m.store.DeleteWallets(ctx, m.UserID, publicKey); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.wallets[:0]
	for _, w := range m.wallets {
		if w.PublicKey != publicKey {
			out = append(out, w)
		}
	}
	m.wallets = out
	return nil
}

// Clear returns funds to the funder and then deletes every wallet left empty.
// Wallets still holding a balance are kept so nothing is lost.
func (m *Manager) Clear(ctx context.Context) (Report, int, error) {
	var report Report
	if m.mainWallet(Funder) != nil && m.dispatcher.chain != nil {
		r, err := m.Return(ctx, true)
		if err != nil {
			return r, 0, err
		}
		report = r
	}

	var empty []string
	kept := 0
	for _, w := range m.Wallets() {
		if m.dispatcher.chain != nil && BalanceLamports(w.Balance) > 0 {
			kept++
			continue
		}
		empty = append(empty, w.PublicKey)
	}
	if kept > 0 {
		m.log.WithField("kept", kept).Warn("wallets still hold funds, not deleted")
	}

	for _, pk := range empty {
		if err := m.DeleteWallet(ctx, pk); err != nil {
			return report, kept, err
		}
	}
	return report, kept, nil
}

// Backup snapshots the burner wallets and every main wallet that is set.
func (m *Manager) Backup(ctx context.Context) (Backup, []MainBackup, error) {
	b, err := m.store.SaveBackup(ctx, m.UserID, "manual", m.Wallets())
	if err != nil {
		return Backup{}, nil, fmt.Errorf("backup wallets: %w", err)
	}

	main := m.MainWallets()
	var saved []MainBackup
	for _, entry := range []struct {
		role Role
		w    *MainWallet
	}{{Developer, main.Developer}, {Funder, main.Funder}} {
		if entry.w == nil {
			continue
		}
		mb, err := m.store.SaveMainBackup(ctx, m.UserID, entry.role, *entry.w)
		if err != nil {
			return b, saved, fmt.Errorf("backup %s wallet: %w", entry.role, err)
		}
		saved = append(saved, mb)
	}

	m.log.WithFields(logrus.Fields{"backup": b.ID, "wallets": len(b.Wallets), "main": len(saved)}).Info("backup saved")
	return b, saved, nil
}

func (m *Manager) Backups(ctx context.Context) ([]Backup, error) {
	return m.store.ListBackups(ctx, m.UserID)
}

func (m *Manager) MainBackups(ctx context.Context) ([]MainBackup, error) {
	return m.store.ListMainBackups(ctx, m.UserID)
}

// Tip prices a relay tip against the configured ceiling.
func (m *Manager) Tip(ctx context.Context) uint64 {
	if m.tips == nil {
		return min(DefaultTip, m.dispatcher.maxTip())
	}
	return m.tips.Tip(ctx, m.dispatcher.maxTip())
}
