package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// Config represents server configuration
type Config struct {
	Port           int           `json:"port"`
	DBPath         string        `json:"db_path"`
	PlantID        string        `json:"plant_id"`
	PolicyFile     string        `json:"policy_file"`
	RequestTimeout time.Duration `json:"request_timeout"`
	Retention      time.Duration `json:"retention"`
	CleanupEvery   time.Duration `json:"cleanup_every"`
}

// Server wires the reading store to the aggregation components and the
// HTTP layer.
type Server struct {
	config     *Config
	store      ReadingStore
	policy     *PolicyConfig
	aggregator *WindowAggregator
	bucketizer *Bucketizer
	comparator *Comparator
	production *ProductionCalculator
	dutycycle  *DutyCycleAnalyzer
	// now is swappable in tests
	now func() time.Time
}

// NewServer creates a server over an initialized store.
func NewServer(config *Config, store ReadingStore, policy *PolicyConfig) *Server {
	return &Server{
		config:     config,
		store:      store,
		policy:     policy,
		aggregator: NewWindowAggregator(store),
		bucketizer: NewBucketizer(store),
		comparator: NewComparator(store, policy),
		production: NewProductionCalculator(store),
		dutycycle:  NewDutyCycleAnalyzer(store),
		now:        time.Now,
	}
}

// routes builds the HTTP handler: gorilla/mux routing wrapped in CORS and
// request logging, with a per-request deadline so a slow query cannot pin
// a connection.
func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/readings", s.handleIngest).Methods("POST")
	api.HandleFunc("/dashboard", s.handleDashboard).Methods("GET")
	api.HandleFunc("/trends", s.handleTrends).Methods("GET")
	api.HandleFunc("/comparison", s.handleComparison).Methods("GET")
	api.HandleFunc("/production", s.handleProduction).Methods("GET")
	api.HandleFunc("/dutycycle", s.handleDutyCycle).Methods("GET")
	api.HandleFunc("/report", s.handleReport).Methods("GET")
	api.HandleFunc("/alerts", s.handleAlerts).Methods("GET")

	r.HandleFunc("/health", s.handleHealthCheck).Methods("GET")

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)

	return handlers.LoggingHandler(os.Stdout, cors(s.withDeadline(r)))
}

// withDeadline bounds every request by the configured timeout.
func (s *Server) withDeadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// startCleanup runs the retention loop until ctx is cancelled.
func (s *Server) startCleanup(ctx context.Context) {
	if s.config.Retention <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(s.config.CleanupEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := s.now().Add(-s.config.Retention)
				n, err := s.store.DeleteOldReadings(ctx, cutoff)
				if err != nil {
					log.Printf("Retention cleanup failed: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("Retention cleanup removed %d readings older than %s", n, cutoff.Format(TimestampLayout))
				}
			}
		}
	}()
}

func main() {
	// Parse command-line flags
	port := flag.Int("port", 8080, "server port")
	dbPath := flag.String("db", "./data/scada.db", "SQLite database path")
	plantID := flag.String("plant", "KARNAL", "default plant ID")
	policyFile := flag.String("policy", "", "metric policy YAML file (built-in defaults if empty)")
	requestTimeout := flag.Duration("request-timeout", 5*time.Second, "per-request deadline")
	retention := flag.Duration("retention", 0, "delete readings older than this (0 disables)")
	cleanupEvery := flag.Duration("cleanup-interval", time.Hour, "how often to run retention cleanup")
	backfillFile := flag.String("backfill", "", "JSON readings export to import before serving")
	flag.Parse()

	config := &Config{
		Port:           *port,
		DBPath:         *dbPath,
		PlantID:        *plantID,
		PolicyFile:     *policyFile,
		RequestTimeout: *requestTimeout,
		Retention:      *retention,
		CleanupEvery:   *cleanupEvery,
	}

	policy, err := LoadPolicy(config.PolicyFile)
	if err != nil {
		log.Fatalf("Failed to load policy: %v", err)
	}

	store := NewSQLiteStore(config.DBPath)
	if err := store.Initialize(); err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	if *backfillFile != "" {
		n, err := BackfillFromFile(context.Background(), store, *backfillFile)
		if err != nil {
			log.Fatalf("Backfill failed: %v", err)
		}
		log.Printf("Backfilled %d readings from %s", n, *backfillFile)
	}

	server := NewServer(config, store, policy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.startCleanup(ctx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      server.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting SCADA server on port %d for plant %s", config.Port, config.PlantID)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Handle graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	log.Println("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	log.Println("Server shutdown complete")
}
