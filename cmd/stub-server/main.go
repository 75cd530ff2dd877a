// cmd/stub-server — 脚本化 Maestro 替身后端入口。
//
// 启动:
//
//	stub-server --port 8000
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raj-pulapakura/idea-maestro/internal/config"
	"github.com/raj-pulapakura/idea-maestro/internal/stubserver"
	"github.com/raj-pulapakura/idea-maestro/pkg/logger"
)

const shutdownGrace = 5 * time.Second

func main() {
	port := flag.Int("port", 0, "监听端口 (默认取 STUB_PORT)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	if *port > 0 {
		cfg.StubPort = *port
	}

	srv := stubserver.NewServer(cfg)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.StubPort),
		Handler: srv.Engine(),
	}

	logger.Info("stub-server starting", logger.FieldPort, cfg.StubPort)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
		defer done()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("stub-server failed", logger.FieldError, err)
	}
	logger.Info("stub-server stopped")
}
