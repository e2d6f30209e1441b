package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv(t *testing.T, extra ...string) func(string) (string, bool) {
	t.Helper()

	m := map[string]string{
		"RECALL_CURSOR_SECRET":   strings.Repeat("k", 32),
		"RECALL_DATABASE_DSN":    "file:" + filepath.Join(t.TempDir(), "recalls.db"),
		"RECALL_LOG_LEVEL":       "error",
		"RECALL_HTTP_ADDR":       "127.0.0.1:0",
		"RECALL_CACHE_NAMESPACE": "cli",
	}
	for i := 0; i+1 < len(extra); i += 2 {
		m[extra[i]] = extra[i+1]
	}
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func run(t *testing.T, env func(string) (string, bool), args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand(&RootOptions{LookupEnv: env})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "recallsearch", cmd.Use)

	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()

	for _, path := range [][]string{{"serve"}, {"migrate"}, {"epoch", "bump"}, {"cache", "invalidate"}} {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			sub, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}
}

func TestMigrate(t *testing.T) {
	env := testEnv(t)

	out, err := run(t, env, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema ready")

	_, err = run(t, env, "migrate")
	assert.NoError(t, err, "migrate must be repeatable")
}

func TestMissingSecret(t *testing.T) {
	_, err := run(t, func(string) (string, bool) { return "", false }, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RECALL_CURSOR_SECRET")
}

func TestEpochBump_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	env := testEnv(t, "RECALL_CACHE_BACKEND", "redis", "RECALL_REDIS_ADDR", mr.Addr())

	out, err := run(t, env, "epoch", "bump")
	require.NoError(t, err)
	assert.Equal(t, "epoch 1\n", out)

	out, err = run(t, env, "epoch", "bump")
	require.NoError(t, err)
	assert.Equal(t, "epoch 2\n", out)
}

func TestCacheInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	env := testEnv(t, "RECALL_CACHE_BACKEND", "redis", "RECALL_REDIS_ADDR", mr.Addr())

	require.NoError(t, mr.Set("cli:0:abc:1:2:first", "page"))
	require.NoError(t, mr.Set("cli:0:abd:1:2:first", "other"))

	out, err := run(t, env, "cache", "invalidate", "--fingerprint", "abc")
	require.NoError(t, err)
	assert.Contains(t, out, "fingerprint abc: 1 entries removed")
	assert.False(t, mr.Exists("cli:0:abc:1:2:first"))
	assert.True(t, mr.Exists("cli:0:abd:1:2:first"))

	out, err = run(t, env, "cache", "invalidate", "--product", "Stroller", "--limit", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "0 entries removed")

	_, err = run(t, env, "cache", "invalidate", "--product", "stroller", "--limit", "0")
	assert.Error(t, err)
}

func TestAdminCommandsRequireSharedCache(t *testing.T) {
	commands := [][]string{
		{"epoch", "bump"},
		{"cache", "invalidate", "--fingerprint", "abc"},
	}

	for _, backend := range []string{"memory", "none"} {
		for _, args := range commands {
			t.Run(backend+" "+strings.Join(args[:2], " "), func(t *testing.T) {
				env := testEnv(t, "RECALL_CACHE_BACKEND", backend)

				out, err := run(t, env, args...)
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrLocalCache)
				assert.Contains(t, err.Error(), backend)
				assert.Empty(t, out)
			})
		}
	}
}

func TestServe_StopsWithContext(t *testing.T) {
	cmd := newRootCommand(&RootOptions{LookupEnv: testEnv(t)})
	cmd.SetArgs([]string{"serve", "--migrate"})
	cmd.SetOut(&bytes.Buffer{})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after its context ended")
	}
}
