package commands

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veilworks/cryptocore/engine"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a key pair for an owner and print its fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(); err != nil {
				return err
			}

			kp, err := vlt.Engine().GenerateKeyPair(owner)
			if err != nil {
				return err
			}
			fmt.Printf("Public key:  %s\n", hex.EncodeToString(kp.Public))
			fmt.Printf("Fingerprint: %s\n", kp.Fingerprint)
			return nil
		},
	}
}

func fingerprintCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "fingerprint [hex-public-key]",
		Short: "Print the fingerprint of a public key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			switch {
			case file != "":
				data, err = os.ReadFile(file)
				if err != nil {
					return err
				}
			case len(args) == 1:
				data, err = hex.DecodeString(args[0])
				if err != nil {
					return fmt.Errorf("invalid hex key: %v", err)
				}
			default:
				return fmt.Errorf("provide a hex public key or --file")
			}

			fmt.Printf("Fingerprint: %s\n", engine.Fingerprint(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read key bytes from file")
	return cmd
}
