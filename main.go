package main

// GET    /cart                    - current open cart (created on first touch)
// GET    /carts                   - open cart and order history
// POST   /cart/items              - add a product (201 new line, 200 merged)
// PUT    /cart/items/{product_id} - set a line's quantity, 0 removes
// DELETE /cart/items/{product_id} - remove a line
// POST   /cart/remove             - remove some or all units of a line
// POST   /cart/clear              - release everything and delete the open cart
// DELETE /carts/{cart_id}         - same, for an explicit cart id
// POST   /cart/checkout           - create a payment intent for the cart total
// POST   /cart/confirm            - finalize the cart once payment succeeded
// GET    /cart/ws                 - live cart updates
// GET    /metrics, /healthz

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cart-reservation/config"
	"cart-reservation/events"
	"cart-reservation/handler"
	"cart-reservation/logger"
	"cart-reservation/metrics"
	"cart-reservation/model"
	"cart-reservation/payment"
	"cart-reservation/service"
	"cart-reservation/store"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg := logger.New(logger.Options{Service: "cart-reservation", Env: cfg.AppEnv, Level: cfg.LogLevel})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Store ---
	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	// --- Redis: events + rate limit ---
	var (
		publisher events.Publisher = events.Nop{}
		feed      events.Subscriber
		limiter   handler.Limiter
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		bus := events.NewRedisBus(rdb, lg)
		publisher, feed = bus, bus
		if cfg.CartRateLimit > 0 {
			limiter = handler.NewRedisLimiter(rdb, cfg.CartRateLimit)
		}
	} else {
		lg.Warn("REDIS_ADDR not set: live updates and rate limiting disabled")
	}

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// --- Service ---
	svc := service.New(st,
		payment.NewStripeGateway(cfg.Checkout.SecretKey, nil),
		service.CheckoutConfig{Currency: cfg.Checkout.Currency, PublishableKey: cfg.Checkout.PublishableKey},
		service.WithPublisher(publisher),
		service.WithMetrics(m),
		service.WithLogger(lg),
	)

	// --- Handlers ---
	h := handler.NewHandler(svc, handler.NewAuthenticator(cfg.JWTSecret),
		handler.WithFeed(feed),
		handler.WithLimiter(limiter),
		handler.WithMetrics(m),
		handler.WithLogger(lg),
	)

	// --- Router ---
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler(reg)).Methods("GET")
	h.RegisterRoutes(r)

	// --- Server ---
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("server running", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.StaleCartAfter > 0 {
		g.Go(func() error {
			lg.Info("stale cart reaper enabled", "after", cfg.StaleCartAfter, "every", cfg.ReapInterval)
			return svc.RunReaper(gctx, cfg.ReapInterval, cfg.StaleCartAfter)
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		mem := store.NewMemoryStore()
		for _, p := range demoCatalog() {
			mem.PutProduct(p)
		}
		return mem, nil
	}

	pg, err := store.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("DB connection failed: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("failed running migrations: %w", err)
	}
	log.Println("Database migrations executed successfully")
	return pg, nil
}

// demoCatalog seeds the in-memory store so it is usable without a catalog.
func demoCatalog() []model.Product {
	return []model.Product{
		{ID: 1, Name: "Coffee mug", Price: decimal.RequireFromString("10.00"), Stock: 25},
		{ID: 2, Name: "T-shirt", Price: decimal.RequireFromString("19.99"), Stock: 10},
		{ID: 3, Name: "Sticker pack", Price: decimal.RequireFromString("3.50"), Stock: 100},
	}
}
