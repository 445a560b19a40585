// Package commands implements the cryptocore CLI: key generation,
// fingerprints, password-based encryption, and the vault unlock flow.
package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/veilworks/cryptocore/config"
	"github.com/veilworks/cryptocore/engine"
	"github.com/veilworks/cryptocore/storage"
	"github.com/veilworks/cryptocore/vault"
)

var (
	configPath string
	home       string
	password   string
	owner      string
	verbose    bool

	cfg   *config.Config
	store *storage.Store
	vlt   *vault.Vault
)

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:   "cryptocore",
		Short: "Client-side cryptographic services: keys, envelopes, proofs, vault",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".cryptocore")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}

			// With a password the store is persistent and its DEK is
			// derived from that password; without one, commands that do
			// not touch storage run against an ephemeral in-memory store.
			dbPath := ":memory:"
			var dek []byte
			if password != "" {
				dbPath = cfg.Storage.Path
				if dbPath == ":memory:" {
					dbPath = filepath.Join(home, "core.db")
				}
				salt, err := loadOrCreateSalt(filepath.Join(home, "store.salt"))
				if err != nil {
					return err
				}
				dek = engine.DeriveDEK(password, salt)
			} else {
				dek = make([]byte, 32)
				if _, err := rand.Read(dek); err != nil {
					return err
				}
			}
			store, err = storage.Open(dbPath, dek)
			if err != nil {
				return err
			}

			vlt = vault.New(store, vault.Options{
				Iterations:     cfg.Crypto.Iterations,
				PoolSize:       cfg.Pool.Size,
				PoolTimeout:    cfg.PoolTimeout(),
				CacheTTL:       cfg.CacheTTL(),
				MaxAttempts:    cfg.Policy.MaxAttempts,
				RateWindow:     cfg.RateWindow(),
				SessionTimeout: cfg.SessionTimeout(),
				WarningLead:    cfg.WarningLead(),
			})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if vlt != nil {
				vlt.Close()
			}
			if store != nil {
				store.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "cryptocore.yaml", "config file path")
	root.PersistentFlags().StringVar(&home, "home", "", "data dir (default ~/.cryptocore)")
	root.PersistentFlags().StringVarP(&password, "password", "p", "", "master password")
	root.PersistentFlags().StringVarP(&owner, "owner", "o", "", "owner identifier")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(keygenCmd(), fingerprintCmd(), encryptCmd(), decryptCmd(), vaultCmd(), proofCmd())
	return root.Execute()
}

func requireOwner() error {
	if owner == "" {
		return fmt.Errorf("owner required (-o)")
	}
	return nil
}

func requirePassword() error {
	if password == "" {
		return fmt.Errorf("password required (-p)")
	}
	return nil
}

// loadOrCreateSalt reads the DEK salt from path, generating one on first
// run. The salt is not secret; only the password is.
func loadOrCreateSalt(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		salt, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(salt) != engine.SaltSize {
			return nil, fmt.Errorf("corrupt store salt at %s", path)
		}
		return salt, nil
	}

	salt, err := engine.GenerateSalt()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(salt)+"\n"), 0o600); err != nil {
		return nil, err
	}
	return salt, nil
}
