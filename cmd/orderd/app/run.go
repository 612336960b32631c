package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/delelinus/orderledger/configs"
	"github.com/delelinus/orderledger/internal/adapter/cache"
	api "github.com/delelinus/orderledger/internal/adapter/http"
	"github.com/delelinus/orderledger/internal/adapter/http/middleware"
	"github.com/delelinus/orderledger/internal/adapter/kafka"
	"github.com/delelinus/orderledger/internal/adapter/queue"
	"github.com/delelinus/orderledger/internal/engine"
	"github.com/delelinus/orderledger/internal/entity"
	"github.com/delelinus/orderledger/internal/feed"
	"github.com/delelinus/orderledger/internal/logging"
	"github.com/delelinus/orderledger/internal/sequence"
	"github.com/delelinus/orderledger/internal/store"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type App struct {
	Router *gin.Engine
	Feed   *feed.Feed
}

// Run serves HTTP until the server fails.
func (a *App) Run(cfg configs.Config) error {
	srv := &http.Server{
		Addr:         cfg.App.HTTPAddr,
		Handler:      a.Router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	return srv.ListenAndServe()
}

// InitWithConfig wires the store, engine, feed, and adapters from config.
// The returned cleanup closes everything the init opened.
func InitWithConfig(cfg configs.Config) (*App, func(), error) {
	logger := logging.Init(cfg.App.Name, cfg.App.LogFile, cfg.App.LogLevel)

	st, closeStore, err := buildStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	f := feed.New(feed.WithBuffer(cfg.Engine.FeedBuffer))
	ids := sequence.NewAllocator(st)
	eng := engine.New(st, ids, f,
		engine.WithMaxAttempts(cfg.Engine.MaxAttempts),
		engine.WithLogger(logging.New("engine")),
	)

	cleanups := []func(){closeStore, f.Close}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// optional redis-backed idempotency
	var idem api.IdempotencyStore
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		cleanups = append(cleanups, func() { _ = rdb.Close() })
		idem = cache.NewRedisIdempotencyStore(rdb, cfg.Idempotency.TTL)
	}

	// optional rabbitmq feed sink
	sinkCtx, stopSinks := context.WithCancel(context.Background())
	cleanups = append(cleanups, stopSinks)
	if cfg.Rabbit.Enabled {
		conn, err := amqp.Dial(cfg.Rabbit.URL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("rabbitmq dial: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("rabbitmq channel: %w", err)
		}
		sink, err := queue.NewRabbitSink(ch, cfg.Rabbit.Exchange, cfg.Rabbit.RoutingKey, logging.New("rabbit-sink"))
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanups = append(cleanups, func() { _ = conn.Close() })
		sub := f.Subscribe()
		go func() {
			if err := sink.Run(sinkCtx, sub); err != nil && sinkCtx.Err() == nil {
				logger.Error("rabbit sink stopped", "err", err)
			}
		}()
	}

	// optional kafka feed sink
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("kafka producer: %w", err)
		}
		sink := kafka.NewSink(producer, cfg.Kafka.Topic, logging.New("kafka-sink"))
		cleanups = append(cleanups, func() { _ = sink.Close() })
		sub := f.Subscribe()
		go func() {
			if err := sink.Run(sinkCtx, sub); err != nil && sinkCtx.Err() == nil {
				logger.Error("kafka sink stopped", "err", err)
			}
		}()
	}

	orders := api.NewOrderHandler(eng, st, idem)
	stream := api.NewStreamHandler(f)
	tokens := api.NewTokenHandler(cfg)
	authz := middleware.NewAuthz(cfg)
	router := api.NewRouter(orders, stream, tokens, authz, logging.New("http")).Handler(cfg)

	return &App{Router: router, Feed: f}, cleanup, nil
}

func buildStore(cfg configs.Config) (store.Store, func(), error) {
	validate := entity.FieldValidator{}

	switch cfg.Store.Backend {
	case "memory":
		st := store.NewMemStore(store.WithValidator(validate))
		return st, func() {}, nil

	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.Timeout)
		defer cancel()
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connect: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("mongo ping: %w", err)
		}
		st := store.NewMongoStore(client, cfg.Mongo.Database, validate)
		if err := st.CreateIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return st, func() { _ = st.Close(context.Background()) }, nil

	case "mysql":
		// DSN must carry clientFoundRows=true so updates report matched rows.
		db, err := sql.Open("mysql", cfg.MySQL.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("mysql open: %w", err)
		}
		db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)
		db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("mysql ping: %w", err)
		}
		st := store.NewMySQLStore(db, validate)
		return st, func() { _ = st.Close(context.Background()) }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
