package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dpc/rostra/pkg/identity"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the local node's identity secret",
}

func init() {
	identityCmd.AddCommand(identityNewCmd)
	identityCmd.AddCommand(identityShowCmd)
}

var identityNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a new identity secret and write its mnemonic to the configured secret file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if _, err := os.Stat(cfg.SecretFile); err == nil {
			return fmt.Errorf("secret file %s already exists, refusing to overwrite", cfg.SecretFile)
		}

		secret, err := identity.Generate()
		if err != nil {
			return fmt.Errorf("generate identity: %w", err)
		}
		if err := writeSecretFile(cfg.SecretFile, secret); err != nil {
			return err
		}

		fmt.Printf("identity: %s\n", secret.Public())
		fmt.Printf("secret written to %s\n", cfg.SecretFile)
		return nil
	},
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the public identity for the configured secret file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		secret, err := readSecretFile(cfg.SecretFile)
		if err != nil {
			return err
		}
		fmt.Println(secret.Public())
		return nil
	},
}

// loadOrCreateSecret reads path's mnemonic, generating and persisting
// a fresh identity on first run (spec.md §6.5: every node requires a
// secret file, but nothing says it must pre-exist).
func loadOrCreateSecret(path string) (identity.Secret, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		secret, err := identity.Generate()
		if err != nil {
			return identity.Secret{}, fmt.Errorf("generate identity: %w", err)
		}
		if err := writeSecretFile(path, secret); err != nil {
			return identity.Secret{}, err
		}
		return secret, nil
	}
	return readSecretFile(path)
}

func readSecretFile(path string) (identity.Secret, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return identity.Secret{}, fmt.Errorf("read secret file %s: %w", path, err)
	}
	secret, err := identity.SecretFromMnemonic(strings.TrimSpace(string(data)))
	if err != nil {
		return identity.Secret{}, fmt.Errorf("parse secret file %s: %w", path, err)
	}
	return secret, nil
}

func writeSecretFile(path string, secret identity.Secret) error {
	mnemonic, err := secret.Mnemonic()
	if err != nil {
		return fmt.Errorf("encode mnemonic: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create secret dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(mnemonic+"\n"), 0600); err != nil {
		return fmt.Errorf("write secret file %s: %w", path, err)
	}
	return nil
}
