package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func proofCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proof",
		Short: "Create commitment-based proofs",
	}
	cmd.AddCommand(proofPasswordCmd(), proofAgeCmd())
	return cmd
}

func proofPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "password",
		Short: "Issue a challenge and create a password proof against it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassword(); err != nil {
				return err
			}

			proofs := vlt.Proofs()
			ch, err := proofs.GenerateChallenge()
			if err != nil {
				return err
			}
			p, err := proofs.CreatePasswordProof(password, ch.ID)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(map[string]any{
				"challenge_id": ch.ID,
				"proof":        p,
				"verified":     proofs.VerifyPasswordProof(p, ch.ID, ""),
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func proofAgeCmd() *cobra.Command {
	var birthdate string
	var minAge int
	cmd := &cobra.Command{
		Use:   "age",
		Short: "Create an age-threshold proof without revealing the birthdate",
		RunE: func(cmd *cobra.Command, args []string) error {
			bd, err := time.Parse("2006-01-02", birthdate)
			if err != nil {
				return fmt.Errorf("invalid birthdate (want YYYY-MM-DD): %v", err)
			}

			p, err := vlt.Proofs().CreateAgeProof(bd, minAge)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(p, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&birthdate, "birthdate", "", "birthdate as YYYY-MM-DD")
	cmd.Flags().IntVar(&minAge, "min-age", 18, "age threshold to prove")
	cmd.MarkFlagRequired("birthdate")
	return cmd
}
