// Command devserver runs an in-memory backend that speaks the same REST and push
// protocols as the production shortener API. It is meant for local development and
// end-to-end runs of shortener-client.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/vadimbarashkov/url-shortener-client/internal/config"
	"github.com/vadimbarashkov/url-shortener-client/internal/devserver"
	"github.com/vadimbarashkov/url-shortener-client/internal/logger"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx); err != nil {
		panic(err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}

	log := logger.New("devserver", cfg.Env, cfg.Log.Level, os.Stdout)

	g, ctx := errgroup.WithContext(ctx)

	srv := devserver.New(cfg.DevServer, log)

	server := &http.Server{
		Addr:           cfg.DevServer.Addr(),
		Handler:        srv.Router(),
		ReadTimeout:    cfg.DevServer.ReadTimeout,
		WriteTimeout:   cfg.DevServer.WriteTimeout,
		IdleTimeout:    cfg.DevServer.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g.Go(func() error {
		log.Info("devserver listening", slog.String("addr", server.Addr))

		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		// Hijacked push connections are not tracked by Shutdown.
		srv.Close()
		return server.Shutdown(context.Background())
	})

	return g.Wait()
}
