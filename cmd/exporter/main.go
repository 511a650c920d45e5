package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"telegram-chat-exporter/internal/adapters/render"
	tgadapter "telegram-chat-exporter/internal/adapters/telegram"
	"telegram-chat-exporter/internal/core/services"
	applog "telegram-chat-exporter/internal/log"
	"telegram-chat-exporter/internal/pkg/config"
	"telegram-chat-exporter/internal/server"
	"telegram-chat-exporter/internal/stats"
	"telegram-chat-exporter/internal/usecase"
)

// cliFlags собирает значения флагов командной строки до сборки конфигурации.
type cliFlags struct {
	chat             string
	output           string
	configFile       string
	maxFileSizeMB    int
	maxDownloads     int
	skipMedia        bool
	skipMediaTypes   []string
	includeTopics    []string
	excludeTopics    []string
	filterInclude    []string
	filterExclude    []string
	filterIgnoreCase bool
	timezone         string
	verbose          bool
	serveAddr        string
	statsPath        string
}

// configError отличает ошибки конфигурации: они завершают процесс кодом 2.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var cfgErr *configError
		if errors.As(err, &cfgErr) {
			fmt.Fprintln(os.Stderr, cfgErr.Error())
			os.Exit(2)
		}
		slog.Error("application run failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	cmd := &cobra.Command{
		Use:           "exporter",
		Short:         "Экспорт чата Telegram в единый интерактивный HTML-документ",
		Long:          "Выгружает историю чата или форума Telegram вместе с медиа и собирает автономный HTML-архив с вкладками топиков, якорями сообщений и ленивой загрузкой изображений.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.chat, "chat", "", "идентификатор чата: @username, числовой ID или точное название (обязательно)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", config.DefaultOutputPath, "путь итогового HTML-файла")
	cmd.Flags().StringVar(&flags.configFile, "config", "config.yml", "путь YAML-файла с учетными данными")
	cmd.Flags().IntVar(&flags.maxFileSizeMB, "max-file-size", config.DefaultMaxFileSizeMB, "потолок размера вложения в мегабайтах")
	cmd.Flags().IntVar(&flags.maxDownloads, "max-downloads", config.DefaultMaxConcurrentDownloads, "количество одновременных загрузок медиа")
	cmd.Flags().BoolVar(&flags.skipMedia, "skip-media", false, "не загружать медиа вообще")
	cmd.Flags().StringSliceVar(&flags.skipMediaTypes, "skip-media-types", nil, "типы медиа для пропуска (photo, video, video_note, voice, audio, document, gif)")
	cmd.Flags().StringSliceVar(&flags.includeTopics, "include-topics", nil, "экспортировать только перечисленные топики (точное название)")
	cmd.Flags().StringSliceVar(&flags.excludeTopics, "exclude-topics", nil, "исключить перечисленные топики (точное название)")
	cmd.Flags().StringSliceVar(&flags.filterInclude, "filter-include", nil, "оставить только сообщения, содержащие одну из подстрок")
	cmd.Flags().StringSliceVar(&flags.filterExclude, "filter-exclude", nil, "убрать сообщения, содержащие одну из подстрок")
	cmd.Flags().BoolVar(&flags.filterIgnoreCase, "filter-ignore-case", false, "сравнивать подстроки фильтра без учета регистра")
	cmd.Flags().StringVar(&flags.timezone, "timezone", config.DefaultTimezone, "таймзона отображения дат (IANA)")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "подробное логирование")
	cmd.Flags().StringVar(&flags.serveAddr, "serve", "", "после экспорта поднять preview-сервер на указанном адресе, например 127.0.0.1:8080")
	cmd.Flags().StringVar(&flags.statsPath, "stats", "", "записать сводную книгу статистики .xlsx по указанному пути")

	_ = cmd.MarkFlagRequired("chat")

	return cmd
}

// buildConfig превращает флаги в валидированную конфигурацию экспорта.
func buildConfig(flags *cliFlags) (*config.ExportConfig, error) {
	if len(flags.includeTopics) > 0 && len(flags.excludeTopics) > 0 {
		return nil, fmt.Errorf("флаги --include-topics и --exclude-topics взаимоисключающие")
	}

	tg, lg, err := config.LoadCredentials(flags.configFile)
	if err != nil {
		return nil, fmt.Errorf("не удалось загрузить учетные данные: %w", err)
	}
	if flags.verbose {
		lg.Level = "debug"
	}

	loc, err := time.LoadLocation(flags.timezone)
	if err != nil {
		return nil, fmt.Errorf("неизвестная таймзона %q: %w", flags.timezone, err)
	}

	skipKinds, err := config.ParseSkipMediaKinds(flags.skipMediaTypes)
	if err != nil {
		return nil, err
	}

	topics := config.NoTopicFilter()
	switch {
	case len(flags.includeTopics) > 0:
		topics = config.IncludeTopics(flags.includeTopics)
	case len(flags.excludeTopics) > 0:
		topics = config.ExcludeTopics(flags.excludeTopics)
	}

	cfg := &config.ExportConfig{
		Telegram:       tg,
		Logging:        lg,
		ChatIdentifier: flags.chat,
		OutputPath:     flags.output,

		MaxFileSizeMB:          flags.maxFileSizeMB,
		MaxConcurrentDownloads: flags.maxDownloads,
		SkipMedia:              flags.skipMedia,
		SkipMediaKinds:         skipKinds,

		Topics: topics,
		Text: config.TextFilter{
			Include:       flags.filterInclude,
			Exclude:       flags.filterExclude,
			CaseSensitive: !flags.filterIgnoreCase,
		},

		Timezone:   loc,
		DateFormat: config.DefaultDateFormat,

		ProgressLogInterval: config.DefaultProgressLogInterval,
		ForumTopicsLimit:    config.DefaultForumTopicsLimit,

		ServeAddr: flags.serveAddr,
		StatsPath: flags.statsPath,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("недопустимая конфигурация: %w", err)
	}
	return cfg, nil
}

// newLogger собирает slog-логгер с маскированием секретов.
func newLogger(lg config.Logging) *slog.Logger {
	var level slog.Level
	switch lg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if lg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	logger := applog.NewMaskedLogger(handler)
	slog.SetDefault(logger)
	return logger
}

// run инкапсулирует всю логику инициализации и запуска экспорта.
func run(parent context.Context, flags *cliFlags) error {
	cfg, err := buildConfig(flags)
	if err != nil {
		return &configError{err: err}
	}

	logger := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zapLogger := zap.NewNop()
	if cfg.Logging.Level == "debug" {
		if dev, devErr := zap.NewDevelopment(); devErr == nil {
			zapLogger = dev
		}
	}
	defer func() { _ = zapLogger.Sync() }()

	client := tgadapter.NewClient(tgadapter.Config{
		APIID:            cfg.Telegram.APIID,
		APIHash:          cfg.Telegram.APIHash,
		PhoneNumber:      cfg.Telegram.PhoneNumber,
		SessionPath:      cfg.Telegram.SessionFile,
		PageSize:         config.DefaultHistoryPageSize,
		TopicsLimit:      cfg.ForumTopicsLimit,
		ProgressInterval: cfg.ProgressLogInterval,
	}, tgadapter.WithLogger(logger), tgadapter.WithZapLogger(zapLogger))

	client.Start(ctx)
	if err := client.WaitReady(ctx); err != nil {
		return fmt.Errorf("клиент telegram не готов: %w", err)
	}

	mediaDir := render.MediaDir(cfg.OutputPath)
	if !cfg.SkipMedia {
		if err := os.MkdirAll(mediaDir, 0o755); err != nil {
			return fmt.Errorf("не удалось создать каталог медиа %q: %w", mediaDir, err)
		}
	}

	mediaSvc := services.NewMediaService(client, mediaDir, filepath.Base(mediaDir), services.MediaConfig{
		MaxFileSize: cfg.MaxFileSizeBytes(),
		SkipAll:     cfg.SkipMedia,
		SkipKinds:   cfg.SkipMediaKinds,
		PoolSize:    cfg.MaxConcurrentDownloads,
	}, services.WithMediaLogger(logger))

	htmlWriter, err := render.NewHTMLWriter(cfg.OutputPath, render.WithLogger(logger))
	if err != nil {
		return err
	}

	sink := &exportSink{
		html:      htmlWriter,
		media:     mediaSvc,
		statsPath: cfg.StatsPath,
		stats:     stats.NewWriter(logger),
	}

	uc := usecase.NewExportChatUseCase(cfg, client, mediaSvc, sink, logger)
	result, err := uc.Export(ctx)
	if err != nil {
		return err
	}

	logger.Info("Export finished",
		"output", result.OutputPath,
		"topics", result.TotalTopics,
		"messages", result.TotalMessages,
		"media", result.MediaCount,
	)

	if cfg.ServeAddr != "" {
		preview := server.NewPreview(cfg.ServeAddr, cfg.OutputPath, logger)
		logger.Info("Open the export in a browser", "url", fmt.Sprintf("http://%s/", cfg.ServeAddr))
		return preview.Run(ctx)
	}
	return nil
}
