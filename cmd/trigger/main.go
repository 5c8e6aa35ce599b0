// trigger fires a small batch of webhook demo runs against a local
// database for smoke-testing cmd/server, printing the resulting run IDs.
// Run: go run ./cmd/trigger
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/ErlanBelekov/durably/internal/demojobs"
	"github.com/ErlanBelekov/durably/internal/events"
	"github.com/ErlanBelekov/durably/internal/registry"
	"github.com/ErlanBelekov/durably/internal/storage/sqlite"
)

type runSpec struct {
	key    string
	url    string
	method string
}

var runs = []runSpec{
	{"trigger-001", "https://httpbin.org/post", "POST"},
	{"trigger-002", "https://httpbin.org/get", "GET"},
	{"trigger-003", "https://httpbin.org/status/500", "POST"},
	{"trigger-004", "https://httpbin.org/status/404", "GET"},
	{"trigger-005", "https://httpbin.org/delay/2", "GET"},
}

func main() {
	ctx := context.Background()

	path := os.Getenv("DATABASE_PATH")
	if path == "" {
		path = "durably.db"
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	db, err := sqlite.Open(ctx, path)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	emitter := events.New(logger, nil)
	reg := registry.New(db, emitter)

	handle, err := demojobs.Register(reg, logger)
	if err != nil {
		log.Fatalf("register webhook job: %v", err)
	}

	fmt.Println("Trigger complete")
	fmt.Println()

	for _, spec := range runs {
		key := spec.key
		run, err := handle.Trigger(ctx, demojobs.WebhookInput{
			URL:    spec.url,
			Method: spec.method,
		}, registry.TriggerOpts{IdempotencyKey: &key})
		if err != nil {
			log.Fatalf("trigger %s: %v", spec.key, err)
		}
		fmt.Printf("  %s  ->  %s  (%s %s)\n", spec.key, run.ID, spec.method, spec.url)
	}

	fmt.Println()
	fmt.Println("  Start cmd/server in another shell against the same DATABASE_PATH")
	fmt.Println("  to see these runs picked up and executed by the worker.")
}
