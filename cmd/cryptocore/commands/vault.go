package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veilworks/cryptocore/policy"
)

func vaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Vault registration, unlock check, and backup",
	}
	cmd.AddCommand(vaultInitCmd(), vaultUnlockCmd(), vaultBackupCmd(), vaultRestoreCmd())
	return cmd
}

func vaultInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Register a vault: fresh salt, commitment, and key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(); err != nil {
				return err
			}
			if err := requirePassword(); err != nil {
				return err
			}

			if err := vlt.Register(context.Background(), owner, password); err != nil {
				return err
			}
			fmt.Printf("Vault registered for %s\n", owner)
			return nil
		},
	}
}

func vaultUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Run the unlock flow and report the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(); err != nil {
				return err
			}
			if err := requirePassword(); err != nil {
				return err
			}

			err := vlt.Unlock(context.Background(), owner, password)
			var rle *policy.RateLimitError
			if errors.As(err, &rle) {
				return fmt.Errorf("too many attempts, retry in %s", rle.RetryAfter)
			}
			if err != nil {
				return err
			}
			fmt.Println("Unlocked.")
			vlt.Lock()
			return nil
		},
	}
}

func vaultBackupCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export an integrity-protected vault backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(); err != nil {
				return err
			}
			if err := requirePassword(); err != nil {
				return err
			}

			if err := vlt.Unlock(context.Background(), owner, password); err != nil {
				return err
			}
			defer vlt.Lock()

			data, err := vlt.ExportBackupJSON()
			if err != nil {
				return err
			}
			if out == "" {
				out = owner + ".backup.json"
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output path (default <owner>.backup.json)")
	return cmd
}

func vaultRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup-file>",
		Short: "Verify and import a vault backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(); err != nil {
				return err
			}
			if err := requirePassword(); err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			if err := vlt.Unlock(context.Background(), owner, password); err != nil {
				return err
			}
			defer vlt.Lock()

			if err := vlt.ImportBackupJSON(data); err != nil {
				return err
			}
			fmt.Println("Backup restored.")
			return nil
		},
	}
}
