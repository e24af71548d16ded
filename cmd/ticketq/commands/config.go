package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"payticket-backend/internal/components/chrono"
	"payticket-backend/internal/components/telemetry"
	"payticket-backend/internal/history"
	"payticket-backend/internal/notify"
	"payticket-backend/internal/queueclient"
	"payticket-backend/pkg/configutil"
	"payticket-backend/pkg/sqliteutil"
	"time"
)

type QueueConfig struct {
	BaseUrl               string  `json:"base_url"`
	TimeoutSeconds        float64 `json:"timeout_seconds"`
	RequestTimeoutSeconds float64 `json:"request_timeout_seconds"`
	PollIntervalSeconds   float64 `json:"poll_interval_seconds"`
	StatusRoute           string  `json:"status_route"`
}

type ServerConfig struct {
	Port                int     `json:"port"`
	Store               string  `json:"store"`
	RedisUrl            string  `json:"redis_url"`
	RedisPrefix         string  `json:"redis_prefix"`
	LeaseSeconds        float64 `json:"lease_seconds"`
	KeepCompleted       bool    `json:"keep_completed"`
	CompletedTtlSeconds float64 `json:"completed_ttl_seconds"`
}

type WorkerConfig struct {
	ServerUrl           string  `json:"server_url"`
	ClientId            string  `json:"client_id"`
	Provider            string  `json:"provider"`
	PollIntervalSeconds float64 `json:"poll_interval_seconds"`
}

type PortalApiConfig struct {
	Endpoint          string  `json:"endpoint"`
	TokenServer       string  `json:"token_server"`
	RequestsPerSecond float64 `json:"requests_per_second"`
}

type PortalPageConfig struct {
	RendererUrl string `json:"renderer_url"`
	BaseUrl     string `json:"base_url"`
}

type SmtpConfig struct {
	notify.SmtpConfig
	ReportTo []string `json:"report_to"`
}

type BulkConfig struct {
	Concurrency   int     `json:"concurrency"`
	RatePerSecond float64 `json:"rate_per_second"`
}

type Config struct {
	Queue      QueueConfig       `json:"queue"`
	Server     ServerConfig      `json:"server"`
	Worker     WorkerConfig      `json:"worker"`
	PortalApi  PortalApiConfig   `json:"portal_api"`
	PortalPage PortalPageConfig  `json:"portal_page"`
	History    sqliteutil.Config `json:"history"`
	Smtp       SmtpConfig        `json:"smtp"`
	Bulk       BulkConfig        `json:"bulk"`
}

// LoadConfig reads path (and its .local override). A missing file is not an error, every
// field has a default. Secrets may come from the environment instead of the file.
func LoadConfig(path string) (Config, error) {
	config, err := configutil.ReadConfig[Config](path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("config not found, using defaults", "path", path)
		err = nil
	}
	if err != nil {
		return Config{}, err
	}

	config.Server.RedisUrl = configutil.EnvOr("REDIS_URL", config.Server.RedisUrl)
	config.Smtp.Password = configutil.EnvOr("SMTP_PASSWORD", config.Smtp.Password)
	config.History.AuthToken = configutil.EnvOr("HISTORY_AUTH_TOKEN", config.History.AuthToken)
	config.Queue.BaseUrl = configutil.EnvOr("TICKET_QUEUE_URL", config.Queue.BaseUrl)

	route, err := queueclient.ParseStatusRoute(config.Queue.StatusRoute)
	if err != nil {
		return Config{}, fmt.Errorf("queue.status_route: %w", err)
	}
	config.Queue.StatusRoute = string(route)
	return config, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (c QueueConfig) options() queueclient.Options {
	return queueclient.Options{
		BaseUrl:        c.BaseUrl,
		Timeout:        seconds(c.TimeoutSeconds),
		RequestTimeout: seconds(c.RequestTimeoutSeconds),
		PollInterval:   seconds(c.PollIntervalSeconds),
		StatusRoute:    queueclient.StatusRoute(c.StatusRoute),
	}
}

func newClock() chrono.API {
	clock, err := chrono.NewStandardImpl()
	if err != nil {
		slog.Warn("failed to load timezone, using local time", "err", err)
		return chrono.StandardImpl{}
	}
	return clock
}

func newTelemetry() telemetry.API {
	return telemetry.SlogAPI{}
}

func historyEnabled(config sqliteutil.Config) bool {
	return config.File != "" || config.Url != ""
}

// openHistory returns ok = false when no history database is configured.
func openHistory(ctx context.Context, time chrono.API) (store history.Store, ok bool, err error) {
	if !historyEnabled(cfg.History) {
		return history.Store{}, false, nil
	}
	store, err = history.Open(ctx, cfg.History, time)
	if err != nil {
		return history.Store{}, false, err
	}
	return store, true, nil
}
