package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/mini-rodalies-3d/dispatch/internal/config"
	"github.com/mini-rodalies-3d/dispatch/internal/db"
	"github.com/mini-rodalies-3d/dispatch/internal/dispatch"
	"github.com/mini-rodalies-3d/dispatch/internal/eta"
	"github.com/mini-rodalies-3d/dispatch/internal/feed"
	"github.com/mini-rodalies-3d/dispatch/internal/handlers"
	"github.com/mini-rodalies-3d/dispatch/internal/metrics"
	"github.com/mini-rodalies-3d/dispatch/internal/motion"
	"github.com/mini-rodalies-3d/dispatch/internal/occupancy"
	"github.com/mini-rodalies-3d/dispatch/internal/pathcache"
	"github.com/mini-rodalies-3d/dispatch/internal/repository"
	sig "github.com/mini-rodalies-3d/dispatch/internal/signal"
	"github.com/mini-rodalies-3d/dispatch/internal/traveltime"
)

// networkRefreshInterval is how often the static network is reloaded.
const networkRefreshInterval = 10 * time.Minute

func main() {
	log.Println("Starting Dispatch Service...")

	config.LoadEnvFiles(".")
	cfg := config.Load()
	log.Printf("Config loaded: world=%s, tick=%v, sweep=%v, retention=%v",
		cfg.World, cfg.TickInterval, cfg.SweepInterval, cfg.RetentionDuration)

	// ═══════════════════════════════════════════════════════
	// PHASE 1: Initialize Database
	// ═══════════════════════════════════════════════════════
	database, err := db.Connect(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("Failed to ensure database schema: %v", err)
	}
	log.Println("Database initialized")

	// ═══════════════════════════════════════════════════════
	// PHASE 2: Load Network Snapshot
	// ═══════════════════════════════════════════════════════
	var loader db.NetworkLoader = database
	if cfg.DatabaseURL != "" {
		repo, err := repository.NewNetworkRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to network registry: %v", err)
		}
		defer repo.Close()
		loader = repo
		log.Println("Network registry: Postgres")
	}

	snapshots := db.NewSnapshots(loader, database, cfg.World)
	if err := snapshots.Refresh(context.Background()); err != nil {
		log.Printf("Warning: initial snapshot failed: %v", err)
		// Continue - the tick reports NO_GRAPH until a refresh succeeds
	}

	// ═══════════════════════════════════════════════════════
	// PHASE 3: Initialize Engine, ETA and Dispatcher
	// ═══════════════════════════════════════════════════════
	ledger := occupancy.NewEngine(occupancy.Config{
		StopWindow: cfg.StopWindow,
		ClaimTTL:   cfg.ClaimTTL,
	}, database)

	paths := pathcache.New(snapshots.Searcher(cfg.World), cfg.PathRefreshPeriod)

	model := motion.ConstantAcceleration{
		AAcc:    cfg.DefaultAccel,
		ADcc:    cfg.DefaultDecel,
		VMaxVal: cfg.DefaultSpeed,
	}
	approach := sig.ApproachPolicy{
		StationSpeed: cfg.ApproachStationSpeed,
		DepotSpeed:   cfg.ApproachDepotSpeed,
	}

	etaService := eta.NewService(eta.Config{
		World:          cfg.World,
		LookaheadEdges: cfg.LookaheadEdges,
		Headway: occupancy.FixedHeadway{
			Node:     cfg.HeadwayNode,
			Edge:     cfg.HeadwayEdge,
			Conflict: cfg.HeadwayConflict,
		},
		SwitchPenalty: cfg.SwitchPenalty,
		VehicleTTL:    cfg.VehicleETATTL,
		TicketTTL:     cfg.TicketETATTL,
		BoardTTL:      cfg.BoardTTL,
	}, eta.Deps{
		Graphs:   snapshots,
		Routes:   snapshots,
		Vehicles: snapshots,
		Tickets:  snapshots,
		Layovers: snapshots,
		Ledger:   ledger,
		Paths:    paths,
		Model:    traveltime.Kinematic{Model: model},
	})

	dispatcher := dispatch.New(dispatch.Config{
		World:          cfg.World,
		LookaheadEdges: cfg.LookaheadEdges,
		StopMargin:     cfg.StopMargin,
		CautionMargin:  cfg.CautionMargin,
		NominalSpeed:   cfg.DefaultSpeed,
		Model:          model,
		Approach:       approach.Approach,
		TickInterval:   cfg.TickInterval,
		SweepInterval:  cfg.SweepInterval,
	}, dispatch.Deps{
		Graphs:    snapshots,
		Routes:    snapshots,
		Vehicles:  snapshots,
		Ledger:    ledger,
		Paths:     paths,
		Actuator:  database,
		Predictor: etaService,
		Accuracy:  metrics.NewAccuracyLearner(database, time.Local),
	})

	// ═══════════════════════════════════════════════════════
	// PHASE 4: Start Loops
	// ═══════════════════════════════════════════════════════
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tick loop
	go func() {
		ticker := time.NewTicker(cfg.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				tickOnce(ctx, dispatcher, snapshots, database)
			case <-ctx.Done():
				log.Println("Tick loop stopped")
				return
			}
		}
	}()

	// Network refresh loop
	go func() {
		ticker := time.NewTicker(networkRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := snapshots.RefreshNetwork(ctx); err != nil {
					log.Printf("Network refresh error: %v", err)
					continue
				}
				paths.Clear()
				etaService.Invalidate()
			case <-ctx.Done():
				log.Println("Network refresh loop stopped")
				return
			}
		}
	}()

	// Timetable loop
	if cfg.TimetableFeedURL != "" {
		timetable := feed.NewTimetablePoller(cfg.TimetableFeedURL, snapshots, database)
		go func() {
			ticker := time.NewTicker(cfg.TimetableInterval)
			defer ticker.Stop()

			for {
				n, err := timetable.Poll(ctx)
				if err != nil {
					log.Printf("Timetable poll error: %v", err)
				} else if n > 0 {
					log.Printf("Timetable: upserted %d forecast tickets", n)
				}

				select {
				case <-ticker.C:
				case <-ctx.Done():
					log.Println("Timetable loop stopped")
					return
				}
			}
		}()
	}

	// Retention cleanup loop
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := database.Cleanup(ctx, cfg.RetentionDuration); err != nil {
					log.Printf("Cleanup error: %v", err)
				}
				if n := etaService.Prune(); n > 0 {
					log.Printf("ETA: pruned %d cached results", n)
				}
			case <-ctx.Done():
				log.Println("Cleanup loop stopped")
				return
			}
		}
	}()

	// ═══════════════════════════════════════════════════════
	// PHASE 5: HTTP Query Surface
	// ═══════════════════════════════════════════════════════
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))
	handlers.Register(r,
		handlers.NewETAHandler(etaService, snapshots),
		handlers.NewOccupancyHandler(ledger),
		handlers.NewHealthHandler(database, snapshots),
	)

	server := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Printf("API server starting on :%s", cfg.Port)
		handlers.LogRoutes()
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	log.Printf("Dispatcher running (tick every %v, retain %v)", cfg.TickInterval, cfg.RetentionDuration)

	// ═══════════════════════════════════════════════════════
	// PHASE 6: Graceful Shutdown
	// ═══════════════════════════════════════════════════════
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	paths.Wait()
	log.Println("Goodbye!")
}

func tickOnce(ctx context.Context, dispatcher *dispatch.Dispatcher, snapshots *db.Snapshots, database *db.DB) {
	if n, err := database.SettleTickets(ctx); err != nil {
		log.Printf("Ticket settle error: %v", err)
	} else if n > 0 {
		log.Printf("Dispatch: %d tickets taken by vehicles", n)
	}

	if err := snapshots.RefreshRealtime(ctx); err != nil {
		log.Printf("Snapshot refresh error: %v", err)
		return
	}

	stats, err := dispatcher.Tick(ctx, time.Now())
	if err != nil {
		log.Printf("Tick error: %v", err)
		return
	}
	if stats.Denied > 0 || stats.Expired > 0 || stats.Orphaned > 0 || stats.Arrivals > 0 {
		log.Printf("Dispatch: %d vehicles, %d granted, %d denied, %d held, %d expired, %d orphaned, %d arrivals",
			stats.Vehicles, stats.Granted, stats.Denied, stats.Held, stats.Expired, stats.Orphaned, stats.Arrivals)
	}
}
