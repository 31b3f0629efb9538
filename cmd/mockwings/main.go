package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"panelctl/internal/mock"
)

func main() {
	addr := flag.String("addr", ":8088", "Listen address")
	apiKey := flag.String("api-key", "", "Client API key to accept (default ptlc_mock)")
	verbose := flag.Bool("v", false, "Log console sessions and requests")
	flag.Parse()

	fmt.Println("Starting mock panel...")

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	panel := mock.New(mock.Options{
		APIKey:    *apiKey,
		Logger:    logger,
		AccessLog: *verbose,
		Sampler:   mock.HostSampler(),
	})
	defer panel.Close()

	fmt.Printf("API key: %s\n", panel.APIKey())
	for _, srv := range panel.Seed() {
		note := ""
		if srv.IsNodeUnderMaintenance {
			note = " [maintenance]"
		}
		fmt.Printf("  %s  %-10s %s, %d MiB%s\n", srv.Identifier, srv.Name, srv.Node, srv.Limits.Memory, note)
	}

	fmt.Printf("Mock panel listening on %s\n", *addr)
	if err := http.ListenAndServe(*addr, panel.Handler()); err != nil {
		log.Fatalf("Mock panel error: %v", err)
	}
}
