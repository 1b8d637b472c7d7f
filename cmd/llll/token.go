package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/llll-robotics/llll/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		role, _ := cmd.Flags().GetString("role")
		subject, _ := cmd.Flags().GetString("subject")

		token, err := auth.NewAuthService(cfg.Auth).IssueToken(subject, role)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("role", auth.RoleOperator, "token role: operator, technician or admin")
	tokenCmd.Flags().String("subject", "llll", "token subject")
}
