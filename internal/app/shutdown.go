package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobsite-crawler/internal/observability"
)

// GracefulShutdown возвращает context, который отменяется по SIGINT/SIGTERM.
// timeout > 0 дополнительно ограничивает весь запуск по времени.
// Отмена проверяется между сайтами и страницами, начатый запрос дорабатывает.
func GracefulShutdown(parent context.Context, logger *observability.Logger, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
		parent := cancel
		cancel = func() {
			cancelTimeout()
			parent()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
