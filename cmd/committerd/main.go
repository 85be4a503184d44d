// Committerd: drains indexed checkpoints, commits them to the store in
// batches and publishes the committed watermark. Exposes /healthz, /metrics
// and /watermark.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("committerd stopped", "err", err)
		os.Exit(1)
	}
}
