package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"bulkload/internal/api"
	"bulkload/internal/config"
	"bulkload/internal/loadtest"
	"bulkload/internal/logger"
	"bulkload/internal/metrics"
)

func newLoadCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load [datafile]",
		Short: "ロードテストを1回実行",
		Example: `  # シミュレーションストアに書き込む
  bulkload load stress.csv

  # 設定ファイルから実行
  bulkload load --config load.properties

  # Redis に 32 スレッドで書き込み、実行中はメトリクスを公開
  bulkload load stress.csv --backend redis --threads 32 --metrics-addr :9090`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(v, args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runLoad(ctx, cmd, cfg, v.GetString("metrics-addr"))
		},
	}

	addLoadFlags(cmd)
	cmd.Flags().String("metrics-addr", "", "実行中に Prometheus メトリクスを公開するアドレス (例: :9090)")
	return cmd
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "HTTP API サーバーを起動",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(v, nil)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			addr := v.GetString("addr")
			fmt.Fprintf(cmd.OutOrStdout(), "bulkload API server on http://%s (Ctrl+C to stop)\n", addr)
			return api.NewServer(addr, cfg).Start(ctx)
		},
	}

	addLoadFlags(cmd)
	cmd.Flags().String("addr", ":8080", "サーバーアドレス (例: :8080, 0.0.0.0:3000)")
	return cmd
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "利用可能なプリセットを表示",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "利用可能なプリセット:")
			fmt.Fprintln(out)
			for _, name := range loadtest.ListPresets() {
				p, _ := loadtest.GetPreset(name)
				fmt.Fprintf(out, "  %-12s %s\n", p.Name, p.Description)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "使用例: bulkload load stress.csv --preset throttled")
		},
	}
}

func addLoadFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("preset", "", "プリセット名 (basic, throttled, gateway, chaos, quick)")
	f.String("data-file", "", "CSV データファイル")
	f.Int("threads", 0, "並列書き込み数")
	f.Int("max-attempts", 0, "スロットル時の最大試行回数")
	f.Duration("backoff-base", 0, "バックオフの基準時間 (例: 100ms)")
	f.String("backend", "", "書き込み先 (sim, redis, cassandra)")
	f.Int64("seed", 0, "シャッフルの乱数シード (0 は時刻ベース)")
}

// resolveConfig は設定ファイル、プリセット、フラグの順に設定を重ねる
func resolveConfig(v *viper.Viper, args []string) (loadtest.Config, error) {
	var cfg loadtest.Config

	// 1. 設定ファイル、プリセット、デフォルトの順
	switch {
	case v.GetString("config") != "":
		fileConfig, err := config.LoadFile(v.GetString("config"))
		if err != nil {
			return cfg, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
		}
		if err := fileConfig.Validate(); err != nil {
			return cfg, fmt.Errorf("設定検証エラー: %w", err)
		}
		if v.GetString("preset") != "" {
			fileConfig.LoadTest.Preset = v.GetString("preset")
		}
		cfg, err = fileConfig.ToLoadTestConfig()
		if err != nil {
			return cfg, fmt.Errorf("設定変換エラー: %w", err)
		}
	case v.GetString("preset") != "":
		preset, ok := loadtest.GetPreset(v.GetString("preset"))
		if !ok {
			return cfg, fmt.Errorf("不明なプリセット: %s (利用可能: %v)", v.GetString("preset"), loadtest.ListPresets())
		}
		cfg = preset
	default:
		cfg = loadtest.DefaultConfig()
	}

	// 2. フラグと環境変数でオーバーライド
	if n := v.GetInt("threads"); n > 0 {
		cfg.Threads = n
	}
	if n := v.GetInt("max-attempts"); n > 0 {
		cfg.MaxAttempts = n
	}
	if d := v.GetDuration("backoff-base"); d > 0 {
		cfg.BackoffBase = d
	}
	if b := v.GetString("backend"); b != "" {
		cfg.Backend = strings.ToLower(b)
	}
	if seed := v.GetInt64("seed"); seed != 0 {
		cfg.Seed = seed
	}
	if f := v.GetString("data-file"); f != "" {
		cfg.DataFile = f
	}
	if len(args) > 0 {
		cfg.DataFile = args[0]
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("設定検証エラー: %w", err)
	}
	return cfg, nil
}

// runLoad はロードテストを実行し、metricsAddr が指定されていれば並行してメトリクスを公開する
func runLoad(ctx context.Context, cmd *cobra.Command, cfg loadtest.Config, metricsAddr string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "bulkload - Concurrent bulk-data load generator")
	fmt.Fprintln(out, "==============================================")
	fmt.Fprintf(out, "Data file: %s\n", cfg.DataFile)
	fmt.Fprintf(out, "Backend: %s, Threads: %d, Max attempts: %d\n", cfg.Backend, cfg.Threads, cfg.MaxAttempts)
	fmt.Fprintln(out, "==============================================")
	fmt.Fprintln(out)

	reg := prometheus.NewRegistry()
	m := metrics.New()
	m.Attach(metrics.MustNewCollector(reg))

	runner := loadtest.NewRunner(cfg)
	runner.SetMetrics(m)

	srvCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	g, gctx := errgroup.WithContext(srvCtx)

	var result *loadtest.Result
	g.Go(func() error {
		defer stopServer()
		var err error
		result, err = runner.Run(gctx)
		return err
	})

	if metricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, metricsAddr, reg)
		})
	}

	err := g.Wait()
	if result != nil {
		fmt.Fprintln(out, result.Report())
	}
	return err
}

// serveMetrics は ctx がキャンセルされるまで /metrics を公開する
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("", "Metrics server listening on http://%s/metrics", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
