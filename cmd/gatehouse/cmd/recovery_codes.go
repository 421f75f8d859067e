package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mknight/gatehouse/otp"
)

var (
	recoveryCountFlag  int
	recoverySecretFlag string
)

var recoveryCodesCmd = &cobra.Command{
	Use:   "recovery-codes",
	Short: "Generate a batch of single-use recovery codes",
	Long: `Prints the plaintext codes once, for handing to the operator, and
the comma-separated list to set as GATEHOUSE_RECOVERY_CODES. Hashes are
salted with the session secret, so regenerating them after a secret
rotation is required.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := recoverySecretFlag
		if secret == "" {
			secret = os.Getenv("GATEHOUSE_SESSION_SECRET")
		}
		if secret == "" {
			return fmt.Errorf("no salt: pass --session-secret or set GATEHOUSE_SESSION_SECRET")
		}

		codes, _, err := otp.GenerateRecoveryCodes(recoveryCountFlag, secret)
		if err != nil {
			return err
		}

		fmt.Println("Recovery codes (store them somewhere safe, each works once):")
		for _, code := range codes {
			fmt.Printf("  %s\n", code)
		}
		fmt.Println()
		fmt.Println("GATEHOUSE_RECOVERY_CODES:")
		for i, code := range codes {
			if i > 0 {
				fmt.Print(",")
			}
			fmt.Print(code)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recoveryCodesCmd)
	recoveryCodesCmd.Flags().IntVar(&recoveryCountFlag, "count", otp.RecoveryCodeCount, "Number of codes to generate")
	recoveryCodesCmd.Flags().StringVar(&recoverySecretFlag, "session-secret", "", "Salt for code hashes (defaults to GATEHOUSE_SESSION_SECRET)")
}
