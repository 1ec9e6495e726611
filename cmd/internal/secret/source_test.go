package secret

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSource(explicit string, env map[string]string, tty bool, typed string) (*Source, *bytes.Buffer) {
	var prompt bytes.Buffer
	src := NewSource("session secret", "SOLFIND_JWT_SECRET", explicit)
	src.lookup = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	src.terminal = func() bool { return tty }
	src.read = func() ([]byte, error) { return []byte(typed), nil }
	src.prompt = &prompt
	return src, &prompt
}

func TestSourcePrefersExplicitValue(t *testing.T) {
	src, prompt := testSource(" from-config ", map[string]string{"SOLFIND_JWT_SECRET": "from-env"}, true, "typed")
	got, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "from-config", got)
	require.Zero(t, prompt.Len())
}

func TestSourceReadsEnvironment(t *testing.T) {
	src, _ := testSource("", map[string]string{"SOLFIND_JWT_SECRET": "from-env"}, false, "")
	got, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "from-env", got)
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	src, _ := testSource("", map[string]string{"SOLFIND_JWT_SECRET": "  "}, true, "typed")
	_, err := src.Get()
	require.ErrorContains(t, err, "set but empty")
}

func TestSourcePromptsOnTerminal(t *testing.T) {
	src, prompt := testSource("", nil, true, "typed-secret\n")
	got, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "typed-secret", got)
	require.Contains(t, prompt.String(), "Enter session secret: ")
}

func TestSourceWithoutTerminal(t *testing.T) {
	src, _ := testSource("", nil, false, "")
	_, err := src.Get()
	require.ErrorContains(t, err, "SOLFIND_JWT_SECRET")
}

func TestSourceCachesFirstResult(t *testing.T) {
	src, _ := testSource("", nil, true, "first")
	calls := 0
	src.read = func() ([]byte, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("read twice")
		}
		return []byte("first"), nil
	}
	for i := 0; i < 3; i++ {
		got, err := src.Get()
		require.NoError(t, err)
		require.Equal(t, "first", got)
	}
	require.Equal(t, 1, calls)
}

func TestSourceRejectsEmptyPrompt(t *testing.T) {
	src, _ := testSource("", nil, true, "   ")
	_, err := src.Get()
	require.ErrorContains(t, err, "cannot be empty")
}
