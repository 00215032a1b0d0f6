package main // Entry point package

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/transitware/seat-allocation/internal/booking"
	"github.com/transitware/seat-allocation/internal/conflict"
	"github.com/transitware/seat-allocation/internal/config"
	"github.com/transitware/seat-allocation/internal/database"
	"github.com/transitware/seat-allocation/internal/handler"
	"github.com/transitware/seat-allocation/internal/hold"
	"github.com/transitware/seat-allocation/internal/ledger"
	"github.com/transitware/seat-allocation/internal/model"
	"github.com/transitware/seat-allocation/internal/notify"
	"github.com/transitware/seat-allocation/internal/repository"
	"github.com/transitware/seat-allocation/internal/router"
	"github.com/transitware/seat-allocation/internal/syncqueue"
)

func main() {
	_ = godotenv.Load() // .env is optional; real environments set vars directly
	cfg := config.Load()

	// Persistence is optional.  Without DB_HOST the node runs
	// memory-only, which is how disconnected channel nodes operate.
	var (
		seatRepo     *repository.SeatRepo
		bookingRepo  *repository.BookingRepo
		conflictRepo *repository.ConflictRepo
	)
	if cfg.DBHost != "" {
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName, database.Pool{
			MaxConns:     cfg.DBMaxConns,
			ConnLifetime: cfg.DBConnLifetime,
		})
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		seatRepo = repository.NewSeatRepo(db)
		bookingRepo = repository.NewBookingRepo(db)
		conflictRepo = repository.NewConflictRepo(db)
	}

	// Journal and store interfaces take typed nils when persistence is
	// off, so the wiring below must keep the untyped nil distinct.
	var journal ledger.Journal
	var store booking.Store
	var cstore conflict.Store
	var archive conflict.Archive
	var catalog handler.Catalog
	if seatRepo != nil {
		journal = seatRepo
		catalog = seatRepo
		store = bookingRepo
		cstore = conflictRepo
		archive = conflictRepo
	}

	led := ledger.New(journal)
	if seatRepo != nil {
		warmStart(led, seatRepo)
	}

	rdb := config.NewRedisClient() // nil when Redis is unreachable

	pub := notify.NewAMQPPublisher()
	go func() {
		if err := notify.StartConsumer(); err != nil {
			log.Printf("notify: consumer stopped: %v", err)
		}
	}()

	retry := ledger.RetryBudget{Attempts: cfg.RetryAttempts, Backoff: cfg.RetryBackoff}
	holds := hold.NewManager(led, pub, retry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go holds.Run(ctx, cfg.SweepInterval)

	coordinator := booking.NewCoordinator(led, holds, booking.ReferenceResolver{}, pub, store)

	var queue syncqueue.Queue = syncqueue.NewMemoryQueue()
	if rdb != nil {
		queue = syncqueue.NewRedisQueue(rdb, "syncq")
	}
	strategy, err := model.ParseStrategy(cfg.ConflictStrategy)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	resolver := conflict.NewResolver(led, holds, queue, strategy, pub, cstore, archive)

	channels, err := handler.ParseChannelKeys(cfg.ChannelKeys)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if len(channels) == 0 {
		log.Printf("auth: no channel credentials configured, token issuance will reject everything")
	}

	e := echo.New()
	router.Register(e, router.Deps{
		Auth:      handler.NewAuthHandler(cfg.JWTSecret, cfg.TokenTTLMin, channels),
		Schedules: handler.NewScheduleHandler(led, catalog),
		Holds:     handler.NewHoldHandler(holds, cfg.HoldTTL),
		Bookings:  handler.NewBookingHandler(coordinator),
		Sync:      handler.NewSyncHandler(queue, resolver, cfg.ReplayBatchSize),
		JWTSecret: cfg.JWTSecret,
		RDB:       rdb,
		RateLimit: 120,
		RateWin:   time.Minute,
	})

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s node=%s strategy=%s)", addr, cfg.Env, cfg.NodeID, strategy)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}

// warmStart re-provisions the ledger from persisted state so holds and
// bookings survive an authority restart with their versions intact.
func warmStart(led *ledger.Ledger, repo *repository.SeatRepo) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	schedules, seats, err := repo.LoadSchedules(ctx)
	if err != nil {
		log.Printf("warm start: %v", err)
		return
	}
	for _, s := range schedules {
		led.Provision(s, seats[s.ID])
	}
	if len(schedules) > 0 {
		log.Printf("warm start: restored %d schedules", len(schedules))
	}
}
