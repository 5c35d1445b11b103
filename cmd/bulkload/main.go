// Package main is the entry point for bulkload.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bulkload/internal/logger"
)

var (
	version = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd はコマンドツリーを構築する
// フラグは viper にバインドされ BULKLOAD_ 接頭辞の環境変数でも指定できる
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("BULKLOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "bulkload",
		Short: "Concurrent bulk-data load generator",
		Long: `bulkload - Concurrent bulk-data load generator

Reads a CSV dataset and writes every record to a store with bounded
concurrency, retrying throttled writes with exponential backoff.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return setupLogger(v)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "設定ファイルパス (YAML/JSON/.properties)")
	pf.String("log-level", "info", "ログレベル (debug, info, warn, error)")
	pf.Bool("log-json", false, "JSON 形式でログを出力")

	root.AddCommand(
		newLoadCmd(v),
		newServeCmd(v),
		newPresetsCmd(),
		newVersionCmd(),
	)

	return root
}

func setupLogger(v *viper.Viper) error {
	level, err := logger.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return err
	}

	format := logger.FormatConsole
	if v.GetBool("log-json") {
		format = logger.FormatJSON
	}
	logger.Default = logger.NewWithFormat(os.Stderr, level, format)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "バージョンを表示",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bulkload version %s\n", version)
		},
	}
}
