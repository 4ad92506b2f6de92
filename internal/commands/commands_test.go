package commands

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mims-dev/mims/internal/config"
	"github.com/mims-dev/mims/internal/logging"
)

// runMims executes the root command in-process with a missing config file and
// no database, so every run uses defaults and the memory store.
func runMims(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvDatabaseURL, "")
	t.Setenv(config.EnvLogLevel, "error")

	dir := t.TempDir()
	base := []string{
		"--config", filepath.Join(dir, "mims.yaml"),
		"--env-file", filepath.Join(dir, ".env"),
	}

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(base, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "mims", cmd.Use)

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "migrate", "seed", "import", "quote"}, names)
}

func TestQuote(t *testing.T) {
	out, err := runMims(t, "quote", "--amount", "1000", "--rate", "12", "--term", "12")
	require.NoError(t, err)
	assert.Contains(t, out, "88.85")
	assert.Contains(t, out, "66.19")
	assert.Contains(t, out, "1066.19")
}

func TestQuote_Errors(t *testing.T) {
	_, err := runMims(t, "quote", "--amount", "ten", "--rate", "12", "--term", "12")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--amount")

	_, err = runMims(t, "quote", "--amount", "1000", "--rate", "12", "--term", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "term_months")

	_, err = runMims(t, "quote", "--amount", "1000", "--rate", "12", "--term", "61")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "term_months")

	_, err = runMims(t, "quote", "--amount", "1000")
	require.Error(t, err)
}

func TestSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.csv")
	csv := "account_number,customer_ref,account_type,opening_balance\n" +
		"ACC-1,CUST-1,savings,100.00\n" +
		"ACC-2,CUST-1,current,\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	out, err := runMims(t, "seed", path)
	require.NoError(t, err)
	assert.Contains(t, out, "opened  ACC-1")
	assert.Contains(t, out, "2 opened, 0 skipped")
}

func TestSeed_Demo(t *testing.T) {
	out, err := runMims(t, "seed", "--demo")
	require.NoError(t, err)
	assert.Contains(t, out, "4 opened, 0 skipped")
}

func TestSeed_Errors(t *testing.T) {
	_, err := runMims(t, "seed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--demo")

	path := filepath.Join(t.TempDir(), "accounts.csv")
	csv := "account_number,customer_ref,account_type,opening_balance\n" +
		"ACC-1,CUST-1,checking,100.00\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	out, err := runMims(t, "seed", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACC-1")
	assert.Contains(t, out, "0 opened, 0 skipped")
}

func TestImport(t *testing.T) {
	dir := t.TempDir()
	batch := "account_number,customer_ref,kind,amount,description,counterpart_account\n" +
		"ACC-1,CUST-1,deposit,10,collection,\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "monday.csv"), []byte(batch), 0o644))

	// The memory store starts empty, so the row is rejected but the file is
	// still posted and moved.
	out, err := runMims(t, "import", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "monday.csv row 1: account_not_found")
	assert.Contains(t, out, "monday.csv: 0 posted, 1 rejected")

	_, err = os.Stat(filepath.Join(dir, "processed", "monday.csv"))
	require.NoError(t, err)

	out, err = runMims(t, "import", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to import")
}

func TestImport_UnknownFormat(t *testing.T) {
	_, err := runMims(t, "import", t.TempDir(), "--format", "ofx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ofx")
}

func TestMigrate_NeedsDatabase(t *testing.T) {
	_, err := runMims(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.EnvDatabaseURL)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(config.EnvDatabaseURL, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "mims.yaml")
	cfg := config.Default()
	cfg.Loans.MaxTerm = 36
	require.NoError(t, config.Save(path, cfg))

	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("MIMS_HTTP_ADDR=:9999\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv(config.EnvHTTPAddr) })

	got, err := loadConfig(&globalFlags{configPath: path, envFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, 36, got.Loans.MaxTerm)
	assert.Equal(t, ":9999", got.HTTP.Addr)
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mims.yaml")
	require.NoError(t, os.WriteFile(path, []byte("identifiers:\n  max_attempts: 0\n"), 0o644))

	_, err := loadConfig(&globalFlags{configPath: path, envFile: filepath.Join(dir, ".env")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_attempts")
}

func TestRunServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	cfg := config.Default()
	cfg.HTTP.ShutdownTimeout = 2 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg, logging.NewNop(), ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(base + "/v1/loans/quote?amount=1000&rate=12&term=12")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"monthly_payment":"88.85"`)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "go_goroutines")
	assert.Contains(t, string(body), "mims_notifications_dropped_total")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
