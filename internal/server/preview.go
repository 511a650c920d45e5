// Package server содержит локальный HTTP-сервер предпросмотра экспорта.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PreviewServer раздает готовый экспорт по HTTP, чтобы просмотреть его
// в браузере без открытия файла напрямую.
type PreviewServer struct {
	httpServer *http.Server
	exportPath string
	log        *slog.Logger
}

// NewPreview создает сервер предпросмотра для указанного файла экспорта.
// Корень раздачи — каталог с файлом, так что медиа и статика доступны
// по относительным путям.
func NewPreview(addr, exportPath string, log *slog.Logger) *PreviewServer {
	if log == nil {
		log = slog.Default()
	}

	dir := filepath.Dir(exportPath)
	page := filepath.Base(exportPath)

	chiRouter := chi.NewRouter()
	chiRouter.Use(middleware.RequestID)
	chiRouter.Use(middleware.Logger)
	chiRouter.Use(middleware.Recoverer)

	// Конечная точка для проверки работоспособности.
	chiRouter.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// Корень ведет сразу на документ экспорта.
	chiRouter.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/"+page, http.StatusFound)
	})

	fileServer := http.FileServer(http.Dir(dir))
	chiRouter.Handle("/*", fileServer)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      chiRouter,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &PreviewServer{
		httpServer: httpServer,
		exportPath: exportPath,
		log:        log,
	}
}

// Addr возвращает адрес, на котором слушает сервер.
func (s *PreviewServer) Addr() string {
	return s.httpServer.Addr
}

// Run запускает сервер и блокируется до отмены контекста,
// после чего корректно завершает работу.
func (s *PreviewServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Preview server listening", "addr", s.httpServer.Addr, "export", s.exportPath)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.log.Info("Shutting down preview server")
	return s.httpServer.Shutdown(shutdownCtx)
}
