// Command stroke-server runs stroke analyses behind an HTTP API and keeps
// the results in sqlite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/stroke.report/internal/api"
	"github.com/banshee-data/stroke.report/internal/config"
	"github.com/banshee-data/stroke.report/internal/db"
	"github.com/banshee-data/stroke.report/internal/monitoring"
	"github.com/banshee-data/stroke.report/internal/rally/pipeline"
	"github.com/banshee-data/stroke.report/internal/rally/progress"
	"github.com/banshee-data/stroke.report/internal/timeutil"
	"github.com/banshee-data/stroke.report/internal/version"
)

var (
	configDir   = flag.String("config-dir", ".", "directory holding stroke-server.yaml")
	showVersion = flag.Bool("version", false, "print version and exit")
)

// pruneInterval is how often expired progress entries are evicted.
const pruneInterval = time.Minute

// loadTuning reads the tuning file, falling back to defaults when it
// does not exist.
func loadTuning(path string) (*config.TuningConfig, error) {
	tuning, err := config.LoadTuningConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("tuning file %s not found, using defaults", path)
		return config.EmptyTuningConfig(), nil
	}
	return tuning, err
}

// apiKeyEnv names the variable holding the model API key. An explicit
// external_api_key_env in the tuning file wins over the service setting,
// matching the strokes CLI.
func apiKeyEnv(cfg *config.ServiceConfig, tuning *config.TuningConfig) string {
	if tuning.ExternalAPIKeyEnv != nil && *tuning.ExternalAPIKeyEnv != "" {
		return *tuning.ExternalAPIKeyEnv
	}
	if cfg.APIKeyEnv != "" {
		return cfg.APIKeyEnv
	}
	return tuning.GetExternalAPIKeyEnv()
}

// pruneLoop evicts expired progress entries on every tick until ctx ends.
func pruneLoop(ctx context.Context, table *progress.Table, clock timeutil.Clock, every time.Duration) {
	ticker := clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			if n := table.Prune(); n > 0 {
				monitoring.Logf("pruned %d progress entries (%d remain)", n, table.Len())
			}
		case <-ctx.Done():
			return
		}
	}
}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if *showVersion {
		fmt.Println(version.String("stroke-server"))
		return
	}

	cfg, err := config.LoadServiceConfig(*configDir)
	if err != nil {
		log.Fatalf("failed to load service config: %v", err)
	}
	pipeline.ConfigureLogging(monitoring.WritersForLevel(cfg.LogLevel, os.Stderr))

	tuning, err := loadTuning(cfg.TuningPath)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}
	keyEnv := apiKeyEnv(cfg, tuning)
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" && tuning.GetClassifierStrategy() == config.StrategyExternal {
		log.Printf("%s is not set: external classifications will degrade", keyEnv)
	}

	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	clock := timeutil.RealClock{}
	table := progress.NewTable(cfg.Progress.MaxEntries, cfg.Progress.MaxAge, clock)

	var opts []api.Option
	if cfg.AdminRoutes {
		mux := http.NewServeMux()
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Fatalf("failed to attach admin routes: %v", err)
		}
		opts = append(opts, api.WithAdmin(mux))
	}
	server := api.NewServer(tuning, apiKey, table, db.NewRunStore(database), opts...)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pruneLoop(ctx, table, clock, pruneInterval)
		log.Print("prune routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("stroke-server %s listening on %s (db=%s)", version.Version, cfg.Listen, cfg.DBPath)
		if err := server.Start(ctx, cfg.Listen); err != nil {
			log.Printf("HTTP server error: %v", err)
			stop()
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
