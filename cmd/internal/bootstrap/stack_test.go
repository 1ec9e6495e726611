package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"solfind/config"
	"solfind/core/events"
	"solfind/services/recon"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.Network.Endpoint = "memory://"
	cfg.Network.FeePerSignature = 0
	cfg.Store.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	cfg.Recon.OutputDir = filepath.Join(dir, "recon")
	return cfg
}

func TestOpenWiresStack(t *testing.T) {
	cfg := testConfig(t)
	rec := &events.Recorder{}
	stack, err := Open(context.Background(), cfg, nil, Options{Emitter: rec})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, stack.Close()) })

	require.NotNil(t, stack.Ledger)
	require.NotNil(t, stack.Orchestrator)
	require.NotNil(t, stack.Listings)
	require.True(t, stack.DB.Migrator().HasTable("listings"))

	open, err := stack.Listings.ListOpen(context.Background())
	require.NoError(t, err)
	require.Empty(t, open)
}

func TestLockerSelection(t *testing.T) {
	cfg := testConfig(t)
	stack, err := Open(context.Background(), cfg, nil, Options{NoMedia: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = stack.Close() })

	require.IsType(t, &recon.LocalLocker{}, stack.Locker())

	cfg.Recon.RedisAddr = "127.0.0.1:6379"
	require.IsType(t, &recon.RedisLocker{}, stack.Locker())
	require.NotNil(t, stack.redis)
}

func TestReconcilerRunsOnEmptyStore(t *testing.T) {
	cfg := testConfig(t)
	stack, err := Open(context.Background(), cfg, nil, Options{NoMedia: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = stack.Close() })

	r, err := stack.Reconciler(true)
	require.NoError(t, err)
	res, err := r.Run(context.Background(), recon.RunOptions{})
	require.NoError(t, err)
	require.True(t, res.DryRun)
	require.Empty(t, res.Rows)
}

func TestOpenRejectsBadDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "mysql"
	_, err := Open(context.Background(), cfg, nil, Options{})
	require.Error(t, err)
}
