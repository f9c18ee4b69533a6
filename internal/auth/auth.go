// Package auth locates the Gemini API key and checks that it works.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// EnvAPIKey is the environment variable checked first.
const EnvAPIKey = "GEMINI_API_KEY"

const (
	credentialDir  = ".sonic-diagnostic"
	credentialFile = "credentials.gpg"
	passphraseFile = ".gpg-passphrase"
)

// Source names where a key came from. It is logged; the key never is.
type Source string

const (
	SourceNone Source = "none"
	SourceEnv  Source = "env"
	SourceGPG  Source = "gpg"
	SourceSSM  Source = "ssm"
)

// ErrNoKey is returned when no source yields a key.
var ErrNoKey = errors.New("API key not found. Set GEMINI_API_KEY or store it in ~/.sonic-diagnostic/credentials.gpg")

// GetAPIKey returns the key from GEMINI_API_KEY or, failing that, the
// GPG-encrypted credentials file.
func GetAPIKey(ctx context.Context) (string, Source, error) {
	if key := strings.TrimSpace(os.Getenv(EnvAPIKey)); key != "" {
		log.Debug().Msg("Using API key from environment variable")
		return key, SourceEnv, nil
	}

	key, err := getFromGPG(ctx)
	if err == nil && key != "" {
		log.Debug().Msg("Using API key from GPG encrypted file")
		return key, SourceGPG, nil
	}

	log.Debug().Err(err).Msg("No API key in GPG credentials")
	return "", SourceNone, ErrNoKey
}

// getFromGPG decrypts the credentials file with the gpg binary. A
// passphrase file with owner-only permissions enables non-interactive use.
func getFromGPG(ctx context.Context) (string, error) {
	credPath, err := credentialPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(credPath); err != nil {
		return "", fmt.Errorf("GPG credentials file not found at %s", credPath)
	}

	args := []string{"--decrypt", "--quiet", "--batch"}
	if pp := passphrasePath(); pp != "" {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", pp)
	}
	args = append(args, credPath)

	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")
	output, err := exec.CommandContext(ctx, "gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("GPG decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

func credentialPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, credentialFile), nil
}

// passphrasePath looks next to the executable, then in the working
// directory. Files readable by group or others are ignored.
func passphrasePath() string {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}

	for _, dir := range dirs {
		p := filepath.Join(dir, passphraseFile)
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		if mode := fi.Mode().Perm(); mode&0077 != 0 {
			log.Warn().
				Str("passphrase_file", p).
				Str("permissions", fmt.Sprintf("%04o", mode)).
				Msg("Passphrase file has insecure permissions (should be 0600); skipping")
			continue
		}
		return p
	}
	return ""
}
