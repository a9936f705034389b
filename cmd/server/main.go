package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/screenverify/engine/internal/clock"
	"github.com/screenverify/engine/internal/config"
	"github.com/screenverify/engine/internal/dbrepo"
	"github.com/screenverify/engine/internal/engine"
	"github.com/screenverify/engine/internal/rng"
	"github.com/screenverify/engine/internal/session"
	"github.com/screenverify/engine/internal/sessionstore"
	"github.com/screenverify/engine/internal/tts"
	"github.com/screenverify/engine/internal/vision"
	"github.com/screenverify/engine/internal/webhook"
	"github.com/screenverify/engine/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to ~/.config/screenverify/config.yaml)")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	store, closeStore := buildStore(cfg)
	defer closeStore()

	sessions, templates, closeDB := buildRepositories(cfg)
	defer closeDB()

	eng := engine.New(engine.Deps{
		Sessions:  sessions,
		Templates: templates,
		Store:     store,
		Vision:    buildVisionPort(cfg),
		TTS:       buildTTSPort(cfg),
		Webhook:   buildWebhook(cfg),
		Source:    rng.New(time.Now().UnixNano()),
		Clock:     clock.Real{},
		NewID:     func() string { return uuid.NewString() },
	})

	server := ws.NewServer(eng, cfg.Server.Prefix, cfg.Server.Production, cfg.Server.AllowedOrigins)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		os.Exit(0)
	}()

	log.Printf("screenverify engine starting (production=%v)", cfg.Server.Production)
	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// buildStore wires the session store per §6.4: an external cache when a
// store URL is configured, otherwise the in-memory store for development.
func buildStore(cfg *config.Config) (session.Store, func()) {
	if cfg.Store.URL == "" {
		log.Println("session store: in-memory")
		mem := session.NewMemoryStore()
		return mem, func() { mem.Quit() }
	}

	log.Println("session store: redis")
	redisStore, err := sessionstore.NewRedisStore(cfg.Store.URL)
	if err != nil {
		log.Fatalf("Failed to connect to session store: %v", err)
	}
	return redisStore, func() { redisStore.Quit() }
}

// buildRepositories wires the durable sessions/templates repositories per
// §6.5: Postgres when a DSN is configured (running migrations first),
// otherwise in-memory fakes for local development.
func buildRepositories(cfg *config.Config) (dbrepo.SessionRepository, session.TemplateLoader, func()) {
	if cfg.Database.DSN == "" {
		log.Println("database: in-memory")
		return dbrepo.NewMemorySessionRepository(), dbrepo.NewMemoryTemplateRepository(), func() {}
	}

	log.Println("database: postgres")
	if err := dbrepo.RunMigrations(cfg.Database.DSN); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	return dbrepo.NewPostgresSessionRepository(pool), dbrepo.NewPostgresTemplateRepository(pool), pool.Close
}

// buildVisionPort builds the Anthropic vision provider (§6.2);
// cfg.Vision.Provider is not consulted. Anthropic's SDK
// reads its credential from the environment, so a configured API key is
// propagated there rather than threaded through the client.
func buildVisionPort(cfg *config.Config) vision.Port {
	if cfg.Vision.APIKey != "" {
		os.Setenv("ANTHROPIC_API_KEY", cfg.Vision.APIKey)
	}
	model := cfg.Vision.Model
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	return vision.NewAnthropicProvider(model)
}

// buildTTSPort builds the HTTP TTS provider (§6.3); cfg.TTS.Provider is not
// consulted.
func buildTTSPort(cfg *config.Config) tts.Port {
	return tts.NewHTTPProvider(cfg.TTS.Endpoint, cfg.TTS.APIKey, cfg.TTS.Model)
}

// buildWebhook wires the completion notifier per §6.6; an empty URL yields
// a Notifier that no-ops on every call.
func buildWebhook(cfg *config.Config) *webhook.Notifier {
	return webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret)
}
