package credential

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingValidator struct {
	calls int
	err   error
	seen  []string
}

func (v *countingValidator) Validate(_ context.Context, cred Credential) error {
	v.calls++
	v.seen = append(v.seen, cred.Value())
	return v.err
}

func TestResolveUsesEnvWithoutPrompting(t *testing.T) {
	validator := &countingValidator{}
	prompted := false
	prompt := func() (string, error) {
		prompted = true
		return "from-prompt", nil
	}

	for _, key := range []string{"abc", "  spaced-key  ", "AIza-long-key-value"} {
		cred, err := Resolve(context.Background(), key, prompt, validator)
		require.NoError(t, err)
		assert.Equal(t, strings.TrimSpace(key), cred.Value())
	}
	assert.False(t, prompted, "prompt must not be called when env supplies a key")
	assert.Equal(t, 3, validator.calls)
}

func TestResolveFallsBackToPrompt(t *testing.T) {
	validator := &countingValidator{}
	cred, err := Resolve(context.Background(), "", func() (string, error) {
		return "typed-key\n", nil
	}, validator)
	require.NoError(t, err)
	assert.Equal(t, "typed-key", cred.Value())
	assert.Equal(t, []string{"typed-key"}, validator.seen)
}

func TestResolveMissingCredential(t *testing.T) {
	cases := map[string]PromptFunc{
		"nil prompt":   nil,
		"empty prompt": func() (string, error) { return "   ", nil },
		"prompt error": func() (string, error) { return "", errors.New("no tty") },
	}
	for name, prompt := range cases {
		t.Run(name, func(t *testing.T) {
			validator := &countingValidator{}
			cred, err := Resolve(context.Background(), "", prompt, validator)
			require.ErrorIs(t, err, ErrMissingCredential)
			assert.True(t, cred.IsZero())
			assert.Zero(t, validator.calls, "no trial call without a key")
		})
	}
}

func TestResolveInvalidCredential(t *testing.T) {
	cause := errors.New("API key not valid")
	validator := &countingValidator{err: cause}

	cred, err := Resolve(context.Background(), "bad-key", nil, validator)
	require.ErrorIs(t, err, ErrInvalidCredential)
	assert.ErrorIs(t, err, cause)
	assert.True(t, cred.IsZero(), "rejected key must be discarded")
	assert.Equal(t, 1, validator.calls, "validation is attempted exactly once")
}

func TestCredentialStringRedacts(t *testing.T) {
	assert.Equal(t, "****", New("abc").String())
	assert.Equal(t, "****6789", New("secret-123456789").String())
}
