package mortality

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWalletFileShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"array", `[{"publicKey":"P1","privateKey":"S1"},{"publicKey":"P2","privateKey":"S2"}]`},
		{"wallets", `{"wallets":[{"pubkey":"P1","secretKey":"S1"},{"public_key":"P2","private_key":"S2"}]}`},
		{"generated", `{"generated":[{"publicKey":"P1","secret_key":"S1"},{"publicKey":"P2","privateKey":"S2"}],"other":1}`},
		{"leading whitespace", "\n  [{\"publicKey\":\"P1\",\"privateKey\":\"S1\"},{\"publicKey\":\"P2\",\"privateKey\":\"S2\"}]"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			wallets, err := ParseWalletFile([]byte(tt.body))
			require.NoError(t, err)
			require.Len(t, wallets, 2)
			for i, w := range wallets {
				assert.Equal(t, fmt.Sprintf("P%d", i+1), w.PublicKey)
				assert.Equal(t, fmt.Sprintf("S%d", i+1), w.PrivateKey)
				assert.Equal(t, NoPlatform, w.Platform)
				assert.Nil(t, w.Balance)
			}
		})
	}
}

func TestParseWalletFileDropsIncomplete(t *testing.T) {
	t.Parallel()

	body := `{"wallets":[
		{"publicKey":"P1"},
		{"privateKey":"S2"},
		{"publicKey":"P3","privateKey":"S3","platform":"BULLX","hasTipped":true,"balance":"5.000000000"}
	]}`
	wallets, err := ParseWalletFile([]byte(body))
	require.NoError(t, err)
	require.Len(t, wallets, 1)

	assert.Equal(t, "P3", wallets[0].PublicKey)
	assert.Equal(t, "BULLX", wallets[0].Platform)
	assert.True(t, wallets[0].HasTipped)
	assert.Nil(t, wallets[0].Balance, "balances are re-read from chain")
}

func TestParseWalletFileRejects(t *testing.T) {
	t.Parallel()

	for _, body := range []string{`not json`, `{"foo":[]}`, `42`, `{"wallets":null}`} {
		_, err := ParseWalletFile([]byte(body))
		assert.Error(t, err, body)
	}
}

func TestExportWalletsRoundTrip(t *testing.T) {
	t.Parallel()

	in := []Wallet{walletFor(newKey(t)), walletFor(newKey(t))}
	in[0].Balance = sol("1.000000000")
	in[1].Platform = "GMGN"
	in[1].HasTipped = true

	data, err := ExportWallets(in)
	require.NoError(t, err)

	var top map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &top))
	assert.Contains(t, top, "wallets")

	out, err := ParseWalletFile(data)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, in[0].PublicKey, out[0].PublicKey)
	assert.Equal(t, in[0].PrivateKey, out[0].PrivateKey)
	assert.Equal(t, "GMGN", out[1].Platform)
	assert.True(t, out[1].HasTipped)

	empty, err := ExportWallets(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"wallets":[]}`, string(empty))
}
