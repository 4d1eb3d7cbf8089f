package mortality

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/scrypt"
	_ "modernc.org/sqlite"
)

var ErrWrongPassphrase = errors.New("wrong passphrase")

const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1

	sealCheck = "mortality"
)

// Store persists wallets per user. Private keys and backups are sealed with a
// key derived from the passphrase and a per-database salt.
type Store struct {
	db  *sql.DB
	key []byte
}

func OpenStore(path string, passphrase []byte) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value BLOB
		);

		CREATE TABLE IF NOT EXISTS user_wallets (
			public_key TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			private_key TEXT NOT NULL,
			balance TEXT,
			platform TEXT DEFAULT 'NONE',
			has_tipped INTEGER DEFAULT 0,
			created_at INTEGER
		);

		CREATE TABLE IF NOT EXISTS user_main_wallets (
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			public_key TEXT NOT NULL,
			private_key TEXT NOT NULL,
			balance TEXT,
			PRIMARY KEY (user_id, role)
		);

		CREATE TABLE IF NOT EXISTS wallet_backups (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			operation TEXT NOT NULL DEFAULT 'manual',
			wallets TEXT NOT NULL,
			wallet_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER
		);

		CREATE TABLE IF NOT EXISTS main_wallet_backups (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			wallet TEXT NOT NULL,
			created_at INTEGER
		);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	key, err := unlock(db, passphrase)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, key: key}, nil
}

// unlock derives the sealing key, creating the salt and check value on first use.
func unlock(db *sql.DB, passphrase []byte) ([]byte, error) {
	var salt []byte
	err := db.QueryRow(`SELECT value FROM meta WHERE key = 'salt'`).Scan(&salt)
	fresh := errors.Is(err, sql.ErrNoRows)
	if err != nil && !fresh {
		return nil, err
	}

	if fresh {
		salt = make([]byte, 16)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, err
		}
	}

	key, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	if fresh {
		check, err := seal([]byte(sealCheck), key)
		if err != nil {
			return nil, err
		}
		_, err = db.Exec(`INSERT INTO meta (key, value) VALUES ('salt', ?), ('check', ?)`, salt, check)
		if err != nil {
			return nil, err
		}
		return key, nil
	}

	var check []byte
	if err := db.QueryRow(`SELECT value FROM meta WHERE key = 'check'`).Scan(&check); err != nil {
		return nil, err
	}
	plain, err := open(check, key)
	if err != nil || string(plain) != sealCheck {
		return nil, ErrWrongPassphrase
	}
	return key, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) sealString(v string) (string, error) {
	out, err := seal([]byte(v), s.key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *Store) openString(v string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return "", err
	}
	out, err := open(raw, s.key)
	if err != nil {
		return "", ErrWrongPassphrase
	}
	return string(out), nil
}

// SaveWallets upserts wallets by public key. Order of first insertion is kept.
func (s *Store) SaveWallets(ctx context.Context, userID string, wallets []Wallet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, w := range wallets {
		sealed, err := s.sealString(w.PrivateKey)
		if err != nil {
			return err
		}
		platform := w.Platform
		if platform == "" {
			platform = NoPlatform
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_wallets (public_key, user_id, private_key, balance, platform, has_tipped, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(public_key) DO UPDATE SET
				balance = excluded.balance,
				platform = excluded.platform,
				has_tipped = excluded.has_tipped
		`, w.PublicKey, userID, sealed, nullable(w.Balance), platform, w.HasTipped, now)
		if err != nil {
			return fmt.Errorf("save wallet %s: %w", w.PublicKey, err)
		}
	}
	return tx.Commit()
}

func (s *Store) LoadWallets(ctx context.Context, userID string) ([]Wallet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT public_key, private_key, balance, platform, has_tipped
		FROM user_wallets WHERE user_id = ? ORDER BY created_at, rowid
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Wallet
	for rows.Next() {
		var (
			w       Wallet
			sealed  string
			balance sql.NullString
		)
		if err := rows.Scan(&w.PublicKey, &sealed, &balance, &w.Platform, &w.HasTipped); err != nil {
			return nil, err
		}
		if w.PrivateKey, err = s.openString(sealed); err != nil {
			return nil, err
		}
		if balance.Valid {
			w.Balance = &balance.String
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeleteWallets removes the named wallets, or every wallet of the user when none are named.
func (s *Store) DeleteWallets(ctx context.Context, userID string, publicKeys ...string) error {
	if len(publicKeys) == 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM user_wallets WHERE user_id = ?`, userID)
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, pk := range publicKeys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_wallets WHERE user_id = ? AND public_key = ?`, userID, pk); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) SaveMainWallet(ctx context.Context, userID string, role Role, w MainWallet) error {
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	sealed, err := s.sealString(w.PrivateKey)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_main_wallets (user_id, role, public_key, private_key, balance)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, role) DO UPDATE SET
			public_key = excluded.public_key,
			private_key = excluded.private_key,
			balance = excluded.balance
	`, userID, string(role), w.PublicKey, sealed, nullable(w.Balance))
	return err
}

func (s *Store) LoadMainWallets(ctx context.Context, userID string) (MainWallets, error) {
	var out MainWallets
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, public_key, private_key, balance
		FROM user_main_wallets WHERE user_id = ?
	`, userID)
	if err != nil {
		return out, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			role    string
			w       MainWallet
			sealed  string
			balance sql.NullString
		)
		if err := rows.Scan(&role, &w.PublicKey, &sealed, &balance); err != nil {
			return out, err
		}
		if w.PrivateKey, err = s.openString(sealed); err != nil {
			return out, err
		}
		if balance.Valid {
			w.Balance = &balance.String
		}
		switch Role(role) {
		case Developer:
			out.Developer = &w
		case Funder:
			out.Funder = &w
		}
	}
	return out, rows.Err()
}

func (s *Store) DeleteMainWallet(ctx context.Context, userID string, role Role) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_main_wallets WHERE user_id = ? AND role = ?`, userID, string(role))
	return err
}

// SaveBackup stores a sealed snapshot of wallets under a new id. An empty
// operation is recorded as "manual".
func (s *Store) SaveBackup(ctx context.Context, userID, operation string, wallets []Wallet) (Backup, error) {
	if wallets == nil {
		wallets = []Wallet{}
	}
	if operation == "" {
		operation = "manual"
	}
	data, err := json.Marshal(wallets)
	if err != nil {
		return Backup{}, err
	}
	sealed, err := s.sealString(string(data))
	if err != nil {
		return Backup{}, err
	}

	b := Backup{
		ID:        uuid.NewString(),
		UserID:    userID,
		Operation: operation,
		Wallets:   wallets,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO wallet_backups (id, user_id, operation, wallets, wallet_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, userID, operation, sealed, len(wallets), b.CreatedAt.Unix())
	if err != nil {
		return Backup{}, err
	}
	return b, nil
}

// ListBackups returns a user's backups, newest first.
func (s *Store) ListBackups(ctx context.Context, userID string) ([]Backup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation, wallets, created_at FROM wallet_backups
		WHERE user_id = ? ORDER BY created_at DESC, rowid DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Backup
	for rows.Next() {
		var (
			b      = Backup{UserID: userID}
			sealed string
			ts     int64
		)
		if err := rows.Scan(&b.ID, &b.Operation, &sealed, &ts); err != nil {
			return nil, err
		}
		data, err := s.openString(sealed)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &b.Wallets); err != nil {
			return nil, fmt.Errorf("backup %s: %w", b.ID, err)
		}
		b.CreatedAt = time.Unix(ts, 0).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// SaveMainBackup stores a sealed copy of a developer or funder wallet.
func (s *Store) SaveMainBackup(ctx context.Context, userID string, role Role, w MainWallet) (MainBackup, error) {
	if !role.Valid() {
		return MainBackup{}, fmt.Errorf("unknown role %q", role)
	}
	data, err := json.Marshal(w)
	if err != nil {
		return MainBackup{}, err
	}
	sealed, err := s.sealString(string(data))
	if err != nil {
		return MainBackup{}, err
	}

	b := MainBackup{
		ID:        uuid.NewString(),
		UserID:    userID,
		Role:      role,
		Wallet:    w,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO main_wallet_backups (id, user_id, role, wallet, created_at) VALUES (?, ?, ?, ?, ?)
	`, b.ID, userID, string(role), sealed, b.CreatedAt.Unix())
	if err != nil {
		return MainBackup{}, err
	}
	return b, nil
}

// ListMainBackups returns a user's main wallet backups, newest first.
func (s *Store) ListMainBackups(ctx context.Context, userID string) ([]MainBackup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, wallet, created_at FROM main_wallet_backups
		WHERE user_id = ? ORDER BY created_at DESC, rowid DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MainBackup
	for rows.Next() {
		var (
			b      = MainBackup{UserID: userID}
			role   string
			sealed string
			ts     int64
		)
		if err := rows.Scan(&b.ID, &role, &sealed, &ts); err != nil {
			return nil, err
		}
		data, err := s.openString(sealed)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &b.Wallet); err != nil {
			return nil, fmt.Errorf("main backup %s: %w", b.ID, err)
		}
		b.Role = Role(role)
		b.CreatedAt = time.Unix(ts, 0).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
