// Command drivelog reconciles a live vehicle telemetry stream into a
// durable history of interval facts, charging sessions, trips, and
// refuels.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/drivelog-data/drivelog/internal/config"
	"github.com/drivelog-data/drivelog/internal/db"
	"github.com/drivelog-data/drivelog/internal/ingest"
	"github.com/drivelog-data/drivelog/internal/places"
	"github.com/drivelog-data/drivelog/internal/reconcile"
	"github.com/drivelog-data/drivelog/internal/telemetry"
)

var (
	dbPath        = flag.String("db", "drivelog.db", "SQLite database path")
	listen        = flag.String("listen", ":8080", "Listen address")
	configPath    = flag.String("config", "drivelog.json", "Path to the config file")
	broker        = flag.String("broker", "", "MQTT broker URL (overrides config)")
	migrationsDir = flag.String("migrations", "migrations", "Path to migration files")
	dev           = flag.Bool("dev", false, "Expose the admin debug routes")
)

func main() {
	flag.Parse()

	if flag.Arg(0) == "migrate" {
		if err := runMigrate(flag.Args()[1:]); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if len(cfg.Vehicles) == 0 {
		log.Fatal("At least one vehicle must be configured")
	}
	if cfg.DBPath != "" {
		*dbPath = cfg.DBPath
	}
	if cfg.Listen != "" {
		*listen = cfg.Listen
	}
	if *broker == "" {
		*broker = cfg.Broker
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	if err := ensureSchema(store); err != nil {
		log.Fatalf("Schema check failed: %v", err)
	}

	resolver := places.NewRegistry(places.NewStaticResolver(staticPlaces(cfg)))
	bus := telemetry.NewBus()

	var vehicles []*reconcile.VehicleReconcilers
	for _, v := range cfg.Vehicles {
		spec := reconcile.VehicleSpec{VIN: v.VIN}
		for _, d := range v.Drives {
			spec.Drives = append(spec.Drives, reconcile.DriveSpec{Index: d.Index, Kind: d.Kind})
		}
		rec, err := reconcile.ConnectVehicle(store, bus, resolver, spec)
		if err != nil {
			log.Fatalf("Failed to connect vehicle %s: %v", v.VIN, err)
		}
		vehicles = append(vehicles, rec)
		log.Printf("connected vehicle %s (%d drives)", v.VIN, len(v.Drives))
	}
	defer func() {
		for _, v := range vehicles {
			v.Disconnect()
		}
	}()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// feed the bus from the MQTT broker unless running store-only
	if *broker != "" {
		listener, err := ingest.Start(*broker, cfg.TopicPrefix, bus)
		if err != nil {
			log.Fatalf("Failed to start ingest: %v", err)
		}
		defer listener.Stop()
	} else {
		log.Print("no broker configured, running without ingest")
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// admin debugging routes are opt-in; they expose raw SQL access
		if *dev {
			store.AttachAdminRoutes(mux)
		}

		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if !store.Health().Healthy() {
				http.Error(w, "store unhealthy", http.StatusServiceUnavailable)
				return
			}
			fmt.Fprintln(w, "ok")
		})

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// ensureSchema brings a fresh database up to the baseline migration and
// refuses to run against an out-of-date one.
func ensureSchema(store *db.DB) error {
	version, _, err := store.MigrateVersion(*migrationsDir)
	if err != nil {
		return err
	}
	if version == 0 {
		return store.MigrateUp(*migrationsDir)
	}
	return store.CheckMigrations(*migrationsDir)
}

func staticPlaces(cfg *config.Config) []places.StaticPlace {
	var out []places.StaticPlace
	for _, p := range cfg.Places {
		out = append(out, places.StaticPlace{
			Kind: places.Kind(p.Kind),
			Place: places.Place{
				UID:       p.UID,
				Name:      p.Name,
				Latitude:  p.Latitude,
				Longitude: p.Longitude,
				Address:   p.Address,
			},
		})
	}
	return out
}

// runMigrate handles the migrate subcommand: up, down, status, and
// force <version>.
func runMigrate(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: drivelog migrate <up|down|status|force N>")
	}

	store, err := db.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer store.Close()

	switch args[0] {
	case "up":
		return store.MigrateUp(*migrationsDir)
	case "down":
		return store.MigrateDown(*migrationsDir)
	case "status":
		version, dirty, err := store.MigrateVersion(*migrationsDir)
		if err != nil {
			return err
		}
		latest, err := db.LatestMigrationVersion(*migrationsDir)
		if err != nil {
			return err
		}
		fmt.Printf("version: %d (latest %d), dirty: %v\n", version, latest, dirty)
		return nil
	case "force":
		if len(args) != 2 {
			return fmt.Errorf("usage: drivelog migrate force <version>")
		}
		var v int
		if _, err := fmt.Sscanf(args[1], "%d", &v); err != nil {
			return fmt.Errorf("bad version %q", args[1])
		}
		return store.MigrateForce(*migrationsDir, v)
	default:
		fmt.Fprintf(os.Stderr, "unknown migrate command %q\n", args[0])
		return fmt.Errorf("usage: drivelog migrate <up|down|status|force N>")
	}
}
