package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"crypto-alert-telegram-bot/config"
	"crypto-alert-telegram-bot/internal/database"
	"crypto-alert-telegram-bot/internal/engine"
	"crypto-alert-telegram-bot/internal/gateway"
	"crypto-alert-telegram-bot/internal/notifier"
	"crypto-alert-telegram-bot/internal/telegram"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/leonelquinteros/gotext"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type BotMetrics struct {
	CommandsProcessed prometheus.Counter
	MessagesHandled   prometheus.Counter
	ProviderCalls     prometheus.Counter
	ProviderErrors    prometheus.Counter
	Engine            *engine.Metrics
}

var metrics = NewBotMetrics()

func init() {
	config.InitConfig()
	setupLogging()
}

func NewBotMetrics() *BotMetrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cryptoalert",
			Subsystem: "telegram_bot",
			Name:      name,
			Help:      help,
		})
	}

	m := &BotMetrics{
		CommandsProcessed: counter("commands_processed", "The total number of processed commands"),
		MessagesHandled:   counter("messages_handled", "The total number of handled messages"),
		ProviderCalls:     counter("provider_calls", "The total number of price provider requests sent"),
		ProviderErrors:    counter("provider_errors", "The total number of failed price provider requests"),
		Engine:            engine.NewMetrics(),
	}

	prometheus.MustRegister(m.CommandsProcessed, m.MessagesHandled, m.ProviderCalls, m.ProviderErrors)
	m.Engine.Register(prometheus.DefaultRegisterer)

	return m
}

func main() {
	restorePath := flag.String("restore", "", "Restore the database from a backup file before starting")
	flag.Parse()

	gotext.Configure("locales", strings.ToLower(config.GetString("lang")), "default")

	dbPath := config.GetString("db_path")
	if *restorePath != "" {
		if err := database.Restore(dbPath, *restorePath); err != nil {
			log.Fatalf("Failed to restore database from %s: %v", *restorePath, err)
		}
		log.Infof("Database restored from %s", *restorePath)
	}

	store, err := database.Open(dbPath, database.Options{
		MinThreshold: config.GetFloat64("min_threshold"),
		MaxThreshold: config.GetFloat64("max_threshold"),
	})
	if err != nil {
		// Corrupt state must never be silently discarded.
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	loadMetricsFromDB(store)

	budget := gateway.NewBudget(
		config.GetInt("rate_limit_per_minute"),
		config.GetInt("rate_limit_per_month"),
	)
	gw := gateway.New(budget, time.Duration(config.GetInt("request_timeout_seconds"))*time.Second)
	gw.SetCounters(metrics.ProviderCalls, metrics.ProviderErrors)

	prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "cryptoalert",
		Subsystem: "gateway",
		Name:      "month_budget_remaining",
		Help:      "Provider calls left in the current month window",
	}, func() float64 { return float64(budget.MonthRemaining()) }))

	bot, err := telegram.NewBot(telegram.BotConfig{
		Token:            config.GetString("telegram_bot_token"),
		Debug:            config.GetBool("debug"),
		UpdatesTimeout:   60,
		AdminChatID:      config.GetInt64("admin_chat_id"),
		DefaultCurrency:  config.GetString("default_currency"),
		DefaultThreshold: config.GetFloat64("default_threshold"),
		BackupDir:        filepath.Dir(dbPath),
	}, store, gw)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	eng := engine.New(
		store,
		gw,
		notifier.NewTelegram(bot.Bot),
		time.Duration(config.GetInt("poll_interval_seconds"))*time.Second,
		metrics.Engine,
	)

	updates, err := bot.GetUpdatesChannel()
	if err != nil {
		log.Fatalf("Failed to get updates channel: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		s := <-sig
		log.Infof("Received %s, shutting down...", s)
		cancel()
	}()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return eng.Run(groupCtx)
	})

	group.Go(func() error {
		handleUpdates(groupCtx, bot, updates)
		return nil
	})

	group.Go(func() error {
		return launchMetricsAndHealthServer(groupCtx, config.GetInt("metrics_port"))
	})

	group.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				saveMetricsToDB(store)
			}
		}
	})

	if err := group.Wait(); err != nil {
		log.Errorf("Shutdown with error: %v", err)
	}

	saveMetricsToDB(store)
	log.Info("Metrics saved, bye")
}

func setupLogging() {
	log.SetLevel(log.InfoLevel)
	if config.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}
	log.Debug("Starting crypto alert bot...")
}

func handleUpdates(ctx context.Context, bot *telegram.Bot, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			bot.Bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				log.Debug("Received non-command update")
				continue
			}

			metrics.MessagesHandled.Inc()
			// Commands are independent, a lookup stuck behind the rate
			// budget must not stall every other user's reply.
			go handleCommand(bot, update)
		}
	}
}

func handleCommand(bot *telegram.Bot, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			stackBuf := make([]byte, 1024)
			stackSize := runtime.Stack(stackBuf, false)
			stackTrace := bytes.TrimRight(stackBuf[:stackSize], "\x00")
			log.Errorf("Recovered from panic: %v\nStack trace: %s", r, stackTrace)
		}
	}()

	err := bot.SendMessage(telegram.Message{
		ChatID:    update.Message.Chat.ID,
		Text:      bot.HandleUpdate(update),
		MessageID: update.Message.MessageID,
	})

	if err != nil {
		log.Errorf("Failed to send message: %v", err)
	} else {
		metrics.CommandsProcessed.Inc()
	}
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func launchMetricsAndHealthServer(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthCheckHandler)

	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Infof("Launching metrics and health endpoint on :%d", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

var persistedCounters = []string{
	"commands_processed",
	"messages_handled",
	"provider_calls",
	"provider_errors",
	"cycles_run",
	"alerts_fired",
}

func counterByName(name string) prometheus.Counter {
	switch name {
	case "commands_processed":
		return metrics.CommandsProcessed
	case "messages_handled":
		return metrics.MessagesHandled
	case "provider_calls":
		return metrics.ProviderCalls
	case "provider_errors":
		return metrics.ProviderErrors
	case "cycles_run":
		return metrics.Engine.CyclesRun
	case "alerts_fired":
		return metrics.Engine.AlertsFired
	}
	return nil
}

func loadMetricsFromDB(store *database.Store) {
	for _, name := range persistedCounters {
		value, err := store.GetMetric(name)
		if err != nil {
			log.Warnf("Failed to load metric %s: %v", name, err)
			continue
		}
		counterByName(name).Add(value)
	}
	log.Debug("Metrics loaded from database")
}

func saveMetricsToDB(store *database.Store) {
	for _, name := range persistedCounters {
		if err := store.SaveMetric(name, getMetricValue(counterByName(name))); err != nil {
			log.Warnf("Failed to save metric %s: %v", name, err)
		}
	}
	log.Debug("Metrics saved to database")
}

func getMetricValue(metric prometheus.Collector) float64 {
	metricChan := make(chan prometheus.Metric, 1)
	metric.Collect(metricChan)
	close(metricChan)

	metricProto := &dto.Metric{}
	if err := (<-metricChan).Write(metricProto); err != nil {
		log.Warnf("Failed to read metric value: %v", err)
		return 0
	}

	if metricProto.Counter != nil {
		return metricProto.Counter.GetValue()
	}
	if metricProto.Gauge != nil {
		return metricProto.Gauge.GetValue()
	}
	return 0
}
