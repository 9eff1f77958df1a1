package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"hedgepool/config"
)

const assetsYAML = `assets:
  - id: WETH
    ticker: WETH/USD
    decimals: 18
    min_fee: "0.2"
    max_fee: "0.4"
    target_hedging_ratio: "50"
    limit_hedging_ratio: "90"
    min_slippage: "0.1"
    max_slippage: "0.5"
    max_leverage: "10"
    maintenance_ratio: "0.05"
    lend_percentage: "50"
    min_reserves_after_lend: "0"
    provider_fee_share: "60"
    provider_lend_share: "80"
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestReadAssetsAcceptsListAndWrapped(t *testing.T) {
	dir := t.TempDir()
	wrapped := filepath.Join(dir, "wrapped.yaml")
	require.NoError(t, os.WriteFile(wrapped, []byte(assetsYAML), 0o600))
	assets, err := readAssets(wrapped)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	require.Equal(t, config.DefaultAsset(), assets[0])

	list := filepath.Join(dir, "list.yaml")
	raw, err := yaml.Marshal([]config.Asset{config.DefaultAsset()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(list, raw, 0o600))
	assets, err = readAssets(list)
	require.NoError(t, err)
	require.Equal(t, "WETH", assets[0].ID)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("[]\n"), 0o600))
	_, err = readAssets(empty)
	require.Error(t, err)
}

func TestImportPostsListings(t *testing.T) {
	var (
		mu      sync.Mutex
		posted  []config.Asset
		headers http.Header
	)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/admin/pools", r.URL.Path)
		var asset config.Asset
		require.NoError(t, json.NewDecoder(r.Body).Decode(&asset))
		mu.Lock()
		posted = append(posted, asset)
		headers = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"pool: asset already whitelisted","request_id":"abc"}`))
	}))
	defer api.Close()

	path := filepath.Join(t.TempDir(), "assets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(assetsYAML), 0o600))

	_, err := run(t, "--api", api.URL, "--token", "secret", "--account", "hp1owner", "import", path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "409")
	require.Contains(t, err.Error(), "request abc")

	out, err := run(t, "--api", api.URL, "import", "--skip-existing", path)
	require.NoError(t, err)
	require.Contains(t, out, "WETH: already whitelisted")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, posted, 2)
	require.Equal(t, "10", posted[0].MaxLeverage)
	require.Empty(t, headers.Get("Authorization"))
}

func TestQueryPrintsIndentedJSON(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/pools/WETH", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"asset":"WETH","collateral_amount":"0"}`))
	}))
	defer api.Close()

	out, err := run(t, "--api", api.URL+"/", "--token", "secret", "pool", "WETH")
	require.NoError(t, err)
	require.Equal(t, "{\n  \"asset\": \"WETH\",\n  \"collateral_amount\": \"0\"\n}\n", out)
}

func TestKeygenWritesKeystore(t *testing.T) {
	t.Setenv("STABLECTL_TEST_PASS", "correct horse")
	path := filepath.Join(t.TempDir(), "keeper.keystore")

	out, err := run(t, "keygen", "--out", path, "--pass-env", "STABLECTL_TEST_PASS")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(strings.TrimSpace(out), "hp1"))
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = run(t, "keygen", "--out", path, "--pass-env", "STABLECTL_TEST_PASS")
	require.Error(t, err)
}

func TestEventsBuildsQuery(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/events", r.URL.Path)
		require.Equal(t, "swap.executed", r.URL.Query().Get("type"))
		require.Equal(t, "7", r.URL.Query().Get("after"))
		require.Empty(t, r.URL.Query().Get("asset"))
		_, _ = w.Write([]byte(`{"events":[],"head":9}`))
	}))
	defer api.Close()

	out, err := run(t, "--api", api.URL, "events", "--type", "swap.executed", "--after", "7")
	require.NoError(t, err)
	require.Contains(t, out, `"head": 9`)
}
