package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"solfind/gateway/auth"
	gwconfig "solfind/gateway/config"
)

func TestLoadEnvFile(t *testing.T) {
	require.NoError(t, loadEnvFile(""))
	require.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SOLFIND_TEST_DOTENV=loaded\n"), 0o600))
	t.Setenv("SOLFIND_TEST_DOTENV", "")
	os.Unsetenv("SOLFIND_TEST_DOTENV")
	require.NoError(t, loadEnvFile(path))
	require.Equal(t, "loaded", os.Getenv("SOLFIND_TEST_DOTENV"))
}

func TestLoadEnvFileKeepsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SOLFIND_TEST_DOTENV=file\n"), 0o600))
	t.Setenv("SOLFIND_TEST_DOTENV", "process")
	require.NoError(t, loadEnvFile(path))
	require.Equal(t, "process", os.Getenv("SOLFIND_TEST_DOTENV"))
}

func TestChallengeStoreSelection(t *testing.T) {
	store, closeFn, err := challengeStore("")
	require.NoError(t, err)
	require.IsType(t, &auth.MemoryStore{}, store)
	closeFn()

	store, closeFn, err = challengeStore(filepath.Join(t.TempDir(), "challenges"))
	require.NoError(t, err)
	require.IsType(t, &auth.LevelDBStore{}, store)
	require.NoError(t, store.Prune(context.Background(), time.Now()))
	closeFn()
}

func TestBuildTLSConfig(t *testing.T) {
	cfg, err := buildTLSConfig("", gwconfig.SecurityConfig{})
	require.NoError(t, err)
	require.Nil(t, cfg)

	_, err = buildTLSConfig("", gwconfig.SecurityConfig{TLSCertFile: "cert.pem"})
	require.Error(t, err)

	_, err = buildTLSConfig(t.TempDir(), gwconfig.SecurityConfig{TLSCertFile: "cert.pem", TLSKeyFile: "key.pem"})
	require.ErrorContains(t, err, "load TLS key pair")
}

func TestResolvePath(t *testing.T) {
	require.Equal(t, "", resolvePath("/etc/solfind", "  "))
	require.Equal(t, "/abs/policy.yaml", resolvePath("/etc/solfind", "/abs/policy.yaml"))
	require.Equal(t, filepath.Join("/etc/solfind", "policy.yaml"), resolvePath("/etc/solfind", "policy.yaml"))
	require.Equal(t, "policy.yaml", resolvePath("", "policy.yaml"))
}

func TestIsLoopbackAddress(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:8080": true,
		"[::1]:8080":     true,
		":8080":          false,
		"0.0.0.0:8080":   false,
		"10.0.0.5:8080":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		require.Equal(t, want, isLoopbackAddress(addr), addr)
	}
}
