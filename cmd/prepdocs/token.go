package main

import (
	"github.com/spf13/cobra"

	"prepdocs-go/internal/config"
	"prepdocs-go/pkg/token"
)

var tokenSubject string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the skill endpoint",
	Long: `用 auth.jwt_secret (SKILL_JWT_SECRET) 签发一个带 skill 权限的 token。
未配置密钥时输出一个随机密钥，供部署时使用。`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "indexer", "token 的 subject")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		cmd.Printf("SKILL_JWT_SECRET is not set, generated secret: %s\n", token.GenerateRandomString(32))
		return nil
	}
	t, err := token.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenExpireHours).GenerateToken(tokenSubject)
	if err != nil {
		return err
	}
	cmd.Println(t)
	return nil
}
