package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/quantk/internal/bridge"
	"github.com/wonny/quantk/internal/external/naver"
	"github.com/wonny/quantk/internal/factors"
	"github.com/wonny/quantk/internal/rpc"
	"github.com/wonny/quantk/internal/scheduler"
	"github.com/wonny/quantk/internal/scheduler/jobs"
	"github.com/wonny/quantk/internal/screener"
	"github.com/wonny/quantk/pkg/config"
	"github.com/wonny/quantk/pkg/httputil"
	"github.com/wonny/quantk/pkg/logger"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "JSON-RPC 브릿지 서버 시작",
	Long: `JSON-RPC 2.0 브릿지 서버를 시작합니다.

이 명령어는:
- TCP 소켓에 바인딩하고 BRIDGE_PORT:<port>를 stdout으로 출력
- 팩터/스크리닝 메서드 등록
- SIGINT/SIGTERM 시 현재 작업을 마치고 종료

Example:
  go run ./cmd/quantk serve
  go run ./cmd/quantk serve --port 19002`,
	RunE: runServe,
}

var servePort int

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&servePort, "port", -1, "브릿지 포트 (0 = OS 할당)")
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if servePort >= 0 {
		cfg.Bridge.Port = servePort
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	log.WithFields(map[string]interface{}{
		"port": cfg.Bridge.Port,
		"env":  cfg.Env,
	}).Info("Initializing bridge")

	// 3. Create HTTP client with the provider rate limit
	httpClient := httputil.New(log).WithRateLimit(cfg.Naver.RatePerSec)

	// 4. Create the market data provider
	provider := naver.NewClient(cfg.Naver, httpClient, log)

	// 5. Create the domain engines
	factorEngine := factors.NewEngine(cfg.Factors, provider, log)
	screenEngine := screener.NewEngine(cfg.Screens, provider, log)

	// 6. Create the RPC server and register the method surface
	server := rpc.NewServer(cfg.Bridge, log)
	bridge.NewService(provider, factorEngine, screenEngine, log).Register(server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 7. Optional scheduled cache refresh
	if cfg.Bridge.RefreshCron != "" {
		sched := scheduler.New(log)
		job := jobs.NewFactorRefreshJob(factorEngine, provider, cfg.Bridge.RefreshCron, log)
		if err := sched.AddJob(job); err != nil {
			return fmt.Errorf("schedule refresh job: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	// 8. Optional debug HTTP endpoint
	if cfg.Bridge.DebugPort > 0 {
		debug := bridge.NewDebugServer(cfg.Bridge.DebugPort, server, log)
		go func() {
			if err := debug.Start(); err != nil {
				log.WithError(err).Error("Debug endpoint stopped")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = debug.Shutdown(shutdownCtx)
		}()
	}

	// 9. Map termination signals to the cooperative shutdown path
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("Signal received, shutting down")
		server.Shutdown()
	}()

	// 10. Serve until shutdown; in-flight work drains before Run returns
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("bridge server: %w", err)
	}

	log.Info("Bridge stopped")
	return nil
}
