package credential

import (
	"fmt"

	"github.com/chzyer/readline"
)

// ReadlinePrompt returns a PromptFunc that reads a masked secret from the terminal.
func ReadlinePrompt(label string) PromptFunc {
	return func() (string, error) {
		rl, err := readline.New("")
		if err != nil {
			return "", fmt.Errorf("open terminal: %w", err)
		}
		defer func() {
			_ = rl.Close()
		}()
		return InstancePrompt(rl, label)()
	}
}

// InstancePrompt reuses an existing readline instance, as the console front-end does.
func InstancePrompt(rl *readline.Instance, label string) PromptFunc {
	return func() (string, error) {
		secret, err := rl.ReadPassword(label)
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return string(secret), nil
	}
}
