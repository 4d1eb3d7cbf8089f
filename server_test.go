package mortality

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServerJitoTipProxy(t *testing.T) {
	t.Parallel()

	upstream, _ := tipServer(t, http.StatusOK, `[{"landed_tips_75th_percentile":4321.5}]`)
	srv := NewServer(testStore(t), upstream.URL, nil)

	rec := serve(t, srv, http.MethodGet, "/api/jito-tip", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"landed_tips_75th_percentile":4321.5}]`, rec.Body.String())
}

func TestServerJitoTipFallback(t *testing.T) {
	t.Parallel()

	upstream, _ := tipServer(t, http.StatusInternalServerError, `boom`)
	srv := NewServer(testStore(t), upstream.URL, NewMetrics())

	rec := serve(t, srv, http.MethodGet, "/api/jito-tip", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 5000, body["landed_tips_75th_percentile"])
	assert.NotEmpty(t, body["error"])
}

func TestServerBackupWallets(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	srv := NewServer(store, "", nil)
	key := newKey(t)

	payload := `{"userId":"alice","wallets":[{"publicKey":"` + key.PublicKey().String() + `","privateKey":"` + key.String() + `","balance":null}]}`
	rec := serve(t, srv, http.MethodPost, "/api/backup-wallets", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	backups, err := store.ListBackups(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	require.Len(t, backups[0].Wallets, 1)
	assert.Equal(t, key.String(), backups[0].Wallets[0].PrivateKey)
}

func TestServerBackupWalletsInvalid(t *testing.T) {
	t.Parallel()

	srv := NewServer(testStore(t), "", nil)
	for _, body := range []string{
		``,
		`{"wallets":[]}`,
		`{"userId":"alice"}`,
		`{"userId":"alice","wallets":"nope"}`,
	} {
		rec := serve(t, srv, http.MethodPost, "/api/backup-wallets", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestServerBackupWalletsStoreFailure(t *testing.T) {
	t.Parallel()

	store, err := OpenStore(":memory:", []byte("pw"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	srv := NewServer(store, "", nil)
	rec := serve(t, srv, http.MethodPost, "/api/backup-wallets", `{"userId":"alice","wallets":[]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServerBackupGeneratedWallets(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	srv := NewServer(store, "", nil)
	key := newKey(t)

	rec := serve(t, srv, http.MethodPost, "/api/backup-generated-wallets", `{"userId":"alice","wallets":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty list")

	payload := `{"userId":"alice","operationType":"import","wallets":[{"publicKey":"` + key.PublicKey().String() + `","privateKey":"` + key.String() + `"}]}`
	rec = serve(t, srv, http.MethodPost, "/api/backup-generated-wallets", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	backups, err := store.ListBackups(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, "import", backups[0].Operation)
}

func TestServerBackupMainWallet(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	srv := NewServer(store, "", nil)
	key := newKey(t)

	payload := `{"userId":"alice","walletType":"funder","wallet":{"publicKey":"` + key.PublicKey().String() + `","privateKey":"` + key.String() + `","balance":"1.000000000"}}`
	rec := serve(t, srv, http.MethodPost, "/api/backup-main-wallet", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	backups, err := store.ListMainBackups(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, Funder, backups[0].Role)
	assert.Equal(t, key.String(), backups[0].Wallet.PrivateKey)
	assert.Equal(t, "1.000000000", *backups[0].Wallet.Balance)
}

func TestServerBackupMainWalletInvalid(t *testing.T) {
	t.Parallel()

	srv := NewServer(testStore(t), "", nil)
	wallet := `{"publicKey":"abc","privateKey":"def"}`
	for _, body := range []string{
		``,
		`{"walletType":"funder","wallet":` + wallet + `}`,
		`{"userId":"alice","walletType":"funder"}`,
		`{"userId":"alice","wallet":` + wallet + `}`,
		`{"userId":"alice","walletType":"admin","wallet":` + wallet + `}`,
		`{"userId":"alice","walletType":"developer","wallet":{}}`,
	} {
		rec := serve(t, srv, http.MethodPost, "/api/backup-main-wallet", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestServerBackupMainWalletStoreFailure(t *testing.T) {
	t.Parallel()

	store, err := OpenStore(":memory:", []byte("pw"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	srv := NewServer(store, "", nil)
	rec := serve(t, srv, http.MethodPost, "/api/backup-main-wallet", `{"userId":"alice","walletType":"developer","wallet":{"publicKey":"abc","privateKey":"def"}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServerMetrics(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.result("ok")
	srv := NewServer(testStore(t), "", m)

	rec := serve(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mortality_dispatch_results_total")
}
