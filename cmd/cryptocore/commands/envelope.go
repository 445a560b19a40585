package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veilworks/cryptocore/engine"
)

// sealedFile is the on-disk format of password-encrypted files: the PBKDF2
// salt next to the AEAD envelope.
type sealedFile struct {
	Salt     []byte           `json:"salt"`
	Envelope *engine.Envelope `json:"envelope"`
}

func encryptCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "encrypt <file>",
		Short: "Encrypt a file with a password-derived key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassword(); err != nil {
				return err
			}

			plaintext, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			salt, err := engine.GenerateSalt()
			if err != nil {
				return err
			}
			key, err := vlt.DeriveKey(context.Background(), password, salt)
			if err != nil {
				return err
			}
			defer key.Zero()

			env, err := engine.Encrypt(plaintext, key)
			if err != nil {
				return err
			}
			data, err := json.Marshal(sealedFile{Salt: salt, Envelope: env})
			if err != nil {
				return err
			}

			if out == "" {
				out = args[0] + ".enc"
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output path (default <file>.enc)")
	return cmd
}

func decryptCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "decrypt <file>",
		Short: "Decrypt a file sealed with encrypt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassword(); err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var sealed sealedFile
			if err := json.Unmarshal(data, &sealed); err != nil {
				return fmt.Errorf("not a sealed file: %v", err)
			}

			key, err := vlt.DeriveKey(context.Background(), password, sealed.Salt)
			if err != nil {
				return err
			}
			defer key.Zero()

			plaintext, err := engine.Decrypt(sealed.Envelope, key)
			if err != nil {
				return err
			}

			if out == "" {
				fmt.Print(string(plaintext))
				return nil
			}
			if err := os.WriteFile(out, plaintext, 0o600); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output path (default stdout)")
	return cmd
}
