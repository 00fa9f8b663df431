package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/clinic-reminders/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-reminders/internal/config"
	"github.com/wolfman30/clinic-reminders/internal/http/handlers"
	"github.com/wolfman30/clinic-reminders/internal/http/middleware"
	"github.com/wolfman30/clinic-reminders/internal/observability/metrics"
	"github.com/wolfman30/clinic-reminders/pkg/logging"
)

const cronPath = "/api/cron/send-reminders"

type cronRunner interface {
	Run(ctx context.Context) (int, handlers.CronResponse)
}

type app struct {
	secret string
	runner cronRunner
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if err := cfg.RequireCron(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pg, err := bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	pipeline, err := bootstrap.BuildDispatch(cfg, bootstrap.DispatchDeps{
		DB:      pg.Pool,
		SQL:     pg.SQL,
		Redis:   bootstrap.BuildRedisClient(ctx, cfg, logger, true),
		Metrics: metrics.NewDispatchMetrics(nil),
	}, "lambda", logger)
	if err != nil {
		logger.Error("failed to build reminder pipeline", "error", err)
		os.Exit(1)
	}

	a := &app{
		secret: cfg.CronSecret,
		runner: handlers.NewCronRemindersHandler(handlers.CronRemindersConfig{
			Dispatcher: pipeline.Dispatcher,
			Producer:   pipeline.Producer,
			BatchLimit: cfg.EffectiveCronBatchLimit(),
			Logger:     logger,
		}),
	}
	lambda.Start(a.handle)
}

func (a *app) handle(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	path := strings.TrimSpace(evt.RawPath)
	if path == "" {
		path = strings.TrimSpace(evt.RequestContext.HTTP.Path)
	}

	if path == "/health" || path == "/_health" {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusOK, Body: "ok"}, nil
	}
	if path != cronPath {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusNotFound}, nil
	}
	if method != http.MethodGet {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusMethodNotAllowed}, nil
	}

	if strings.TrimSpace(a.secret) == "" {
		return jsonResponse(http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "cron secret not configured",
		}), nil
	}
	if !middleware.ValidCronSecret(headerValue(evt.Headers, "authorization"), a.secret) {
		return jsonResponse(http.StatusUnauthorized, map[string]any{"error": "Unauthorized"}), nil
	}

	status, resp := a.runner.Run(ctx)
	return jsonResponse(status, resp), nil
}

func jsonResponse(status int, body any) events.APIGatewayV2HTTPResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusInternalServerError}
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       string(raw),
		Headers:    map[string]string{"content-type": "application/json"},
	}
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
