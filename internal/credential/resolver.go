// Package credential resolves and validates the Gemini API key.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	// ErrMissingCredential is returned when neither the environment nor the prompt supplied a key.
	ErrMissingCredential = errors.New("Missing API key! Please check your .env file.")
	// ErrInvalidCredential is returned when the trial request with the key fails.
	ErrInvalidCredential = errors.New("API key rejected by the model service")
)

// Credential is an opaque API key. It is held in memory only.
type Credential struct {
	value string
}

// New wraps a raw key.
func New(value string) Credential {
	return Credential{value: value}
}

// Value returns the raw key for the SDK client.
func (c Credential) Value() string {
	return c.value
}

// IsZero reports whether no key is held.
func (c Credential) IsZero() bool {
	return c.value == ""
}

// String redacts the key so it never ends up in logs.
func (c Credential) String() string {
	if len(c.value) <= 4 {
		return "****"
	}
	return "****" + c.value[len(c.value)-4:]
}

// PromptFunc asks the user for a key interactively.
type PromptFunc func() (string, error)

// Validator performs one trial request against the remote service.
type Validator interface {
	Validate(ctx context.Context, cred Credential) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, cred Credential) error

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context, cred Credential) error {
	return f(ctx, cred)
}

// Resolve picks the key from envValue, falling back to prompt, then validates it once.
// There is no retry: a failed validation is final.
func Resolve(ctx context.Context, envValue string, prompt PromptFunc, validator Validator) (Credential, error) {
	key := strings.TrimSpace(envValue)
	source := "env"

	if key == "" && prompt != nil {
		source = "prompt"
		entered, err := prompt()
		if err != nil {
			slog.Warn("Credential prompt failed", "error", err)
		}
		key = strings.TrimSpace(entered)
	}

	if key == "" {
		return Credential{}, ErrMissingCredential
	}

	cred := New(key)
	if validator != nil {
		if err := validator.Validate(ctx, cred); err != nil {
			return Credential{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
		}
	}

	slog.Info("Credential resolved", "source", source, "key", cred.String())
	return cred, nil
}
