package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"secure_chat/internal/config"
	"secure_chat/internal/history"
	"secure_chat/internal/queue"
	userRepo "secure_chat/internal/repository/user"
	redisSvc "secure_chat/internal/service/redis"
	"secure_chat/internal/service/server"
	"secure_chat/internal/utils/log"
)

func main() {
	log.Init(zap.Must(zap.NewProduction()))
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	redisService := redisSvc.NewRedis(rdb)

	opts := server.Options{
		Addr:      cfg.ServerAddr,
		JWTSecret: cfg.JWTSecret,
		Redis:     redisService,
	}

	if cfg.OfflineQueue {
		opts.Queue = queue.NewRedisQueue(redisService)
	}

	switch strings.ToLower(cfg.HistoryBackend) {
	case "mongo":
		db, err := initMongo(cfg.MongoURI)
		if err != nil {
			log.Fatal("connect to mongo", zap.Error(err))
		}
		mongoDB := db.Database(cfg.MongoDatabase)
		opts.History = history.NewMongoStore(mongoDB)
		opts.Users = userRepo.NewUserRepo(mongoDB)
	case "postgres":
		store, err := history.NewPostgresStore(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatal("connect to postgres", zap.Error(err))
		}
		defer store.Close()
		opts.History = store
	case "none":
		log.Info("running without message history")
	default:
		log.Fatal("unknown history backend", zap.String("backend", cfg.HistoryBackend))
	}

	s := server.NewRelayServer(opts)
	s.Run()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
