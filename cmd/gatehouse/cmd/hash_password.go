package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mknight/gatehouse/internal/util"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash a password for GATEHOUSE_ADMIN_PASSWORD_HASH",
	Long: `Reads a password from stdin and prints its argon2id PHC string.
Pipe it in or type it followed by enter:

  echo -n 'secret' | gatehouse hash-password`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(cmd.InOrStdin())
		password, err := reader.ReadString('\n')
		if err != nil && password == "" {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimRight(password, "\r\n")
		if password == "" {
			return fmt.Errorf("empty password")
		}

		hash, err := util.HashArgon2id(password, util.DefaultArgon2idParams())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
