// Package main 是应用程序的入口点。
package main

import (
	"fmt"
	"os"

	"docqa-go/internal/config"
	"docqa-go/pkg/token"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "docqa-server",
		Short:         "基于私有文档的检索增强问答服务",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "配置文件路径")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	})
	root.AddCommand(newIssueTokenCmd(&configPath))
	return root
}

func newIssueTokenCmd(configPath *string) *cobra.Command {
	var clientID string
	var hours int

	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "为调用方签发 API 令牌",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return fmt.Errorf("jwt.secret 未配置, 无法签发令牌")
			}
			manager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours)
			signed, err := manager.GenerateToken(clientID, hours)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "调用方 ID")
	cmd.Flags().IntVar(&hours, "hours", 0, "有效期（小时），0 表示使用配置的默认值")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}
