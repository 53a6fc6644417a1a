package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/shopspring/decimal"

	"github.com/EmrahCan/budget-tracker/internal/ledger"
	"github.com/EmrahCan/budget-tracker/internal/receipt"
	"github.com/EmrahCan/budget-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("budget-tracker")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "budget-tracker.db", "Database file path")
		storagePath = fs.StringLong("storage", "./receipts", "Receipt image storage directory")
		urlSecret   = fs.StringLong("url-secret", "", "Secret for signing receipt image URLs (random per run if unset)")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL (local recognition engine)")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, bakllava, qwen2-vl)")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key for the remote fallback (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")

		minConfidence     = fs.IntLong("min-confidence", 60, "Confidence below which a local scan is never trusted")
		trustedConfidence = fs.IntLong("trusted-confidence", 75, "Confidence at which large totals stop being suspicious")
		suspiciousAmount  = fs.StringLong("suspicious-amount", "1000", "Total at which low-confidence scans are suspected of a dropped digit")
		minItemsTextRatio = fs.Float64Long("min-items-text-ratio", 0.5, "Minimum fraction of readable item names")

		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("BUDGET_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize ledger store
	slog.Info("Initializing database...")
	store, err := ledger.NewBoltStore(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	engine := ledger.NewEngine(store)

	// Initialize the local recognition engine
	slog.Info("Initializing local recognition engine...", "url", *ollamaURL, "model", *ollamaModel)
	local, err := scanning.NewOllama(*ollamaURL, *ollamaModel)
	if err != nil {
		slog.Error("Failed to initialize Ollama", "error", err)
		os.Exit(1)
	}
	defer local.Close()

	// The remote fallback is optional; without a key, low-confidence local
	// results are used as-is.
	var remote scanning.RemoteScanner
	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey != "" {
		slog.Info("Initializing remote fallback engine...", "model", *geminiModel)
		gemini, err := scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
		defer gemini.Close()
		remote = gemini
	} else {
		slog.Info("No Gemini API key configured, remote fallback disabled")
	}

	heuristics := scanning.DefaultHeuristicConfig()
	heuristics.MinConfidence = *minConfidence
	heuristics.TrustedConfidence = *trustedConfidence
	heuristics.MinItemsTextRatio = *minItemsTextRatio
	if amount, err := decimal.NewFromString(*suspiciousAmount); err == nil {
		heuristics.SuspiciousAmount = amount
	} else {
		slog.Error("Invalid suspicious-amount value", "value", *suspiciousAmount, "error", err)
		os.Exit(1)
	}

	// Initialize receipt image storage
	slog.Info("Initializing storage...")
	blobStore, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	signer := receipt.NewURLSigner(*urlSecret)

	service := receipt.NewService(engine, store, local, remote, heuristics, blobStore, signer)

	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(service, basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
