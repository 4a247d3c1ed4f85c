// Команда softphone: консольный SIP клиент поверх WebSocket.
//
// Команды stdin: register, call <номер|uri>, hangup, status, quit.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/phsym/console-slog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/ws_softphone/pkg/dialog"
	"github.com/arzzra/ws_softphone/pkg/notify"
	"github.com/arzzra/ws_softphone/pkg/softphone"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "ошибка: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cli, err := loadConfig(args, stderr)
	if err != nil {
		return err
	}
	logger := newLogger(cli, stderr)
	slog.SetDefault(logger)

	cfg := cli.phoneConfig(logger)
	cfg.OnNotification = func(n notify.Notification) {
		fmt.Fprintln(stdout, "*", n.String())
	}
	var reg *prometheus.Registry
	if cli.MetricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		cfg.MetricsRegisterer = reg
	}

	phone, err := softphone.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	if reg != nil {
		srv := &http.Server{
			Addr:              cli.MetricsAddr,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("метрики доступны", slog.String("addr", cli.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer stop()
		return commandLoop(gctx, phone, stdin, stdout)
	})

	if err := phone.Register(gctx); err != nil {
		logger.Warn("регистрация не запущена", slog.Any("error", err))
	}

	err = g.Wait()
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := phone.Close(closeCtx); cerr != nil {
		logger.Warn("ошибка при остановке", slog.Any("error", cerr))
	}
	return err
}

func newLogger(cli *cliConfig, w io.Writer) *slog.Logger {
	level := cli.slogLevel()
	switch strings.ToLower(cli.LogFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	case "text":
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(console.NewHandler(w, &console.HandlerOptions{
		AddSource:  level <= slog.LevelDebug,
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
}

func metricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// commander команды, доступные из консоли
type commander interface {
	Register(ctx context.Context) error
	Call(ctx context.Context, target string) (dialog.Info, error)
	HangUp(ctx context.Context) error
	Snapshot() softphone.Snapshot
}

// commandLoop читает команды до quit, EOF или отмены ctx
func commandLoop(ctx context.Context, p commander, stdin io.Reader, stdout io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := execute(ctx, p, line, stdout); quit {
				return nil
			}
		}
	}
}

func execute(ctx context.Context, p commander, line string, stdout io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToLower(fields[0]) {
	case "register", "reg":
		if err := p.Register(ctx); err != nil {
			fmt.Fprintln(stdout, "ошибка:", err)
		}
	case "call", "dial":
		if len(fields) < 2 {
			fmt.Fprintln(stdout, "использование: call <номер|uri>")
			return false
		}
		info, err := p.Call(ctx, fields[1])
		if err != nil {
			fmt.Fprintln(stdout, "ошибка:", err)
			return false
		}
		fmt.Fprintf(stdout, "вызов %s -> %s\n", info.CallID, info.RemoteURI)
	case "hangup", "bye":
		if err := p.HangUp(ctx); err != nil {
			fmt.Fprintln(stdout, "ошибка:", err)
		}
	case "status":
		fmt.Fprintln(stdout, p.Snapshot().String())
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(stdout, "команды: register, call <номер|uri>, hangup, status, quit")
	default:
		fmt.Fprintf(stdout, "неизвестная команда %q, help - список команд\n", fields[0])
	}
	return false
}
