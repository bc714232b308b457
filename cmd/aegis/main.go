// Command aegis is the interactive front-end for the Aegis Prime workflow:
// objective in, strategy proposal, pillar refinement, blueprint, finalize.
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
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"aegisprime/pkg/config"
	"aegisprime/pkg/eventlog"
	"aegisprime/pkg/gateway"
	"aegisprime/pkg/logx"
	"aegisprime/pkg/persistence"
	"aegisprime/pkg/version"
	"aegisprime/pkg/workflow"
)

func main() {
	var (
		dataDir      = flag.String("datadir", "", "Data directory (default .aegis)")
		metricsAddr  = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9091)")
		setSecret    = flag.Bool("set-secret", false, "Store the provider API key in the encrypted secrets file and exit")
		freshSession = flag.Bool("new", false, "Discard any persisted session and start fresh")
		showVersion  = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("aegis %s\n", version.Version)
		fmt.Printf("  commit: %s\n", version.Commit)
		fmt.Printf("  built:  %s\n", version.Date)
		os.Exit(0)
	}

	os.Exit(run(*dataDir, *metricsAddr, *setSecret, *freshSession))
}

// run contains the main application logic and returns an exit code. This
// allows defers to execute before os.Exit is called.
func run(dataDir, metricsAddr string, setSecret, freshSession bool) int {
	logger := logx.NewLogger("aegis")

	if dataDir == "" {
		dataDir = config.DefaultDataDir
	}
	cfg, err := config.Load(filepath.Join(dataDir, config.ConfigFileName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if cfg.DataDir != "" {
		dataDir = cfg.DataDir
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data directory: %v\n", err)
		return 1
	}

	if setSecret {
		if err := storeAPIKey(dataDir, cfg.Provider); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to store API key: %v\n", err)
			return 1
		}
		fmt.Println("API key stored.")
		return 0
	}

	if config.SecretsFileExists(dataDir) {
		if err := unlockSecrets(dataDir); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to unlock secrets: %v\n", err)
			return 1
		}
	}

	gw, err := buildGateway(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize provider: %v\n", err)
		return 1
	}

	store, err := persistence.Open(filepath.Join(dataDir, "aegis.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	events, err := eventlog.NewWriter(filepath.Join(dataDir, "logs"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open event log: %v\n", err)
		return 1
	}
	defer func() { _ = events.Close() }()

	engine, err := workflow.NewEngine(gw, cfg.Provider, cfg.Generation,
		workflow.WithStore(store),
		workflow.WithEventLog(events),
		workflow.WithChunkHandler(func(chunk string) { fmt.Print(chunk) }),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize workflow: %v\n", err)
		return 1
	}

	if !freshSession {
		snap, loadErr := store.LoadSnapshot(persistence.DefaultSnapshotKey)
		switch {
		case loadErr == nil:
			if restoreErr := engine.Restore(snap); restoreErr != nil {
				logger.Warn("could not restore session: %v", restoreErr)
			}
		case loadErr != persistence.ErrSnapshotNotFound:
			logger.Warn("could not load snapshot: %v", loadErr)
		}
	}

	if metricsAddr != "" {
		go serveMetrics(metricsAddr, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Aegis Prime (%s, model %s)\n", cfg.Provider, gw.ModelName())
	fmt.Println("Type 'help' for commands.")
	return repl(ctx, engine)
}

func buildGateway(cfg *config.Config) (gateway.Gateway, error) {
	pc := gateway.ProviderConfig{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		Host:     cfg.OllamaHost,
	}
	if envVar := config.APIKeyEnvVar(cfg.Provider); envVar != "" {
		key, err := config.GetSecret(envVar)
		if err != nil {
			return nil, fmt.Errorf("%s is required for provider %s: %w", envVar, cfg.Provider, err)
		}
		pc.APIKey = key
	}
	return gateway.New(pc)
}

func serveMetrics(addr string, logger *logx.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("serving metrics on %s/metrics", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics server stopped: %v", err)
	}
}

func unlockSecrets(dataDir string) error {
	fmt.Print("Secrets file password: ")
	password, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	secrets, err := config.DecryptSecretsFile(dataDir, string(password))
	if err != nil {
		return err
	}
	config.SetDecryptedSecrets(secrets)
	return nil
}

func storeAPIKey(dataDir, provider string) error {
	envVar := config.APIKeyEnvVar(provider)
	if envVar == "" {
		return fmt.Errorf("provider %s does not use an API key", provider)
	}

	password, err := promptForPassword()
	if err != nil {
		return err
	}

	fmt.Printf("Enter value for %s: ", envVar)
	key, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read API key: %w", err)
	}

	secrets := map[string]string{envVar: string(key)}
	if config.SecretsFileExists(dataDir) {
		existing, decErr := config.DecryptSecretsFile(dataDir, password)
		if decErr != nil {
			return decErr
		}
		existing[envVar] = string(key)
		secrets = existing
	}
	return config.EncryptSecretsFile(dataDir, password, secrets)
}

func promptForPassword() (string, error) {
	maxAttempts := 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Print("Enter a password for the secrets file: ")
		password1, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}

		fmt.Print("Confirm password: ")
		password2, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}

		if !bytes.Equal(password1, password2) {
			if attempt < maxAttempts {
				fmt.Println("Passwords do not match. Please try again.")
				continue
			}
			return "", fmt.Errorf("passwords do not match after %d attempts", maxAttempts)
		}

		password := string(password1)
		for i := range password1 {
			password1[i] = 0
		}
		for i := range password2 {
			password2[i] = 0
		}
		return password, nil
	}
	return "", fmt.Errorf("password entry failed")
}
