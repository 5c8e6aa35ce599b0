// Package demojobs ships a small job definition exercising the engine
// end to end: an outbound HTTP call performed from inside step.run. The
// engine itself never performs I/O on the caller's behalf; it only
// replays whatever a job function chooses to do inside step.run.
package demojobs

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ErlanBelekov/durably/internal/registry"
	"github.com/ErlanBelekov/durably/internal/requestid"
	"github.com/ErlanBelekov/durably/internal/stepctx"
)

// WebhookJobName is the name the webhook demo job is registered under.
const WebhookJobName = "webhook"

// WebhookInput is the payload POST /trigger expects for the webhook job.
type WebhookInput struct {
	URL     string            `json:"url" validate:"required,url"`
	Method  string            `json:"method" validate:"required,oneof=GET POST PUT PATCH DELETE"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// WebhookOutput is the step.run output: just enough to tell a caller what
// happened without echoing the full response body.
type WebhookOutput struct {
	StatusCode int    `json:"statusCode"`
	DurationMS int64  `json:"durationMs"`
}

// webhookClient is a hardened *http.Client safe to reuse across every
// invocation of the job.
var webhookClient = &http.Client{
	Timeout: 5 * time.Minute,
	Transport: &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	},
	CheckRedirect: func(_ *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return fmt.Errorf("stopped after 10 redirects")
		}
		return nil
	},
}

// Register installs the webhook job under reg and returns its handle.
// Callers that only need it available to the worker/HTTP trigger path can
// discard the returned handle.
func Register(reg *registry.Registry, logger *slog.Logger) (*registry.JobHandle[WebhookInput, WebhookOutput], error) {
	log := logger.With("component", "demojobs.webhook")
	return registry.Register(reg, WebhookJobName, func(ctx *stepctx.Context, input WebhookInput) (WebhookOutput, error) {
		var out WebhookOutput
		err := ctx.Run("call", func(stdctx context.Context) (any, error) {
			return callWebhook(stdctx, log, input)
		}, &out)
		return out, err
	})
}

func callWebhook(ctx context.Context, log *slog.Logger, input WebhookInput) (WebhookOutput, error) {
	start := time.Now()

	var bodyReader io.Reader
	if input.Body != "" {
		bodyReader = strings.NewReader(input.Body)
	}

	req, err := http.NewRequestWithContext(ctx, input.Method, input.URL, bodyReader)
	if err != nil {
		return WebhookOutput{}, fmt.Errorf("build request: %w", err)
	}
	for k, v := range input.Headers {
		req.Header.Set(k, v)
	}

	reqID := requestid.New()
	req.Header.Set("X-Request-ID", reqID)
	ctx = requestid.WithRequestID(ctx, reqID)

	log.InfoContext(ctx, "sending webhook request", "method", input.Method, "url", input.URL)

	resp, err := webhookClient.Do(req)
	if err != nil {
		log.ErrorContext(ctx, "webhook request failed", "error", err, "duration", time.Since(start))
		return WebhookOutput{}, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body) // drain so the connection can be reused by the pool

	duration := time.Since(start)
	log.InfoContext(ctx, "received webhook response", "status", resp.StatusCode, "duration", duration)

	return WebhookOutput{StatusCode: resp.StatusCode, DurationMS: duration.Milliseconds()}, nil
}
