package main

import (
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/egannguyen/go-kafka-social/internal/config"
	"github.com/egannguyen/go-kafka-social/internal/repository"
	"github.com/egannguyen/go-kafka-social/internal/repository/memory"
	"github.com/egannguyen/go-kafka-social/internal/repository/postgres"
	redisrepo "github.com/egannguyen/go-kafka-social/internal/repository/redis"
)

// stores groups the persistence the process needs.
type stores struct {
	events      repository.EventLog
	posts       repository.PostReadRepository
	comments    repository.CommentReadRepository
	checkpoints repository.Checkpoints
	closers     []func() error
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}
}

func openStores(cfg config.Config) (*stores, error) {
	s := &stores{}
	switch cfg.StoreDriver {
	case "postgres":
		db, err := postgres.InitDB(cfg.DatabaseURL, cfg.MigrationsDir)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		s.events = postgres.NewEventLog(db)
		s.posts = postgres.NewPostRepository(db)
		s.comments = postgres.NewCommentRepository(db)
		s.checkpoints = postgres.NewCheckpoints(db)
	default:
		s.events = memory.NewEventLog()
		posts, comments := memory.NewReadModel()
		s.posts, s.comments = posts, comments
		s.checkpoints = memory.NewCheckpoints()
	}

	if cfg.CheckpointDriver == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		s.closers = append(s.closers, client.Close)
		s.checkpoints = redisrepo.NewCheckpoints(client, cfg.CheckpointsKey)
		log.WithField("addr", cfg.RedisAddr).Info("Projection checkpoints kept in redis")
	}

	log.WithFields(log.Fields{"store": cfg.StoreDriver, "checkpoints": cfg.CheckpointDriver}).Info("Stores ready")
	return s, nil
}
