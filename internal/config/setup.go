package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	zxcvbn "github.com/ccojocar/zxcvbn-go"
)

const weakSecretScoreThreshold = 3

// IsWeakSecret reports whether a credential looks guessable. Empty secrets
// are rejected before this check runs.
func IsWeakSecret(secret string) bool {
	if secret == "" {
		return false
	}
	return zxcvbn.PasswordStrength(secret, nil).Score < weakSecretScoreThreshold
}

// RunSetup interactively collects the credentials, writes a default config
// to path, and returns it. The caller is expected to exit afterwards so the
// operator can review the file before the first real run.
func RunSetup(in io.Reader, out io.Writer, path string) (*Config, error) {
	r := bufio.NewReader(in)

	fmt.Fprintf(out, "No config found at %s, running first-time setup.\n\n", path)

	token, err := prompt(r, out, "Discord bot token")
	if err != nil {
		return nil, err
	}
	clientID, err := prompt(r, out, "osu! OAuth client ID")
	if err != nil {
		return nil, err
	}
	secret, err := prompt(r, out, "osu! OAuth client secret")
	if err != nil {
		return nil, err
	}
	if IsWeakSecret(secret) {
		fmt.Fprintln(out, "Warning: that client secret looks weak. Consider regenerating it.")
	}

	cfg := NewDefault()
	cfg.DiscordBotToken = token
	cfg.OsuClientID = clientID
	cfg.OsuClientSecret = secret

	if err := cfg.Save(path); err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "\nWrote %s. Review it and start the service again.\n", path)
	return cfg, nil
}

func prompt(r *bufio.Reader, out io.Writer, label string) (string, error) {
	for {
		fmt.Fprintf(out, "%s: ", label)
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("config: read %s: %w", label, err)
		}
		line = strings.TrimSpace(line)
		if line != "" {
			return line, nil
		}
		fmt.Fprintln(out, "A value is required.")
		if err != nil {
			return "", fmt.Errorf("config: read %s: %w", label, io.ErrUnexpectedEOF)
		}
	}
}
