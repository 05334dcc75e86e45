// Package bootstrap assembles the key store, message store and delivery
// service from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"secure_drop/internal/config"
	"secure_drop/internal/repository/keystore"
	"secure_drop/internal/repository/message"
	"secure_drop/internal/service/delivery"
	redisSvc "secure_drop/internal/service/redis"
	"secure_drop/internal/utils/log"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	connectTimeout = 10 * time.Second
	connectRetries = 5
)

type (
	Runtime struct {
		Config   *config.Config
		Keys     *keystore.KeyStore
		Store    *message.Store
		Delivery *delivery.Service
		Registry *prometheus.Registry

		closers []func(context.Context) error
	}
)

func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
	}

	var keyOpts []keystore.Option
	if cfg.Keys.Passphrase != "" {
		keyOpts = append(keyOpts, keystore.WithPassphrase([]byte(cfg.Keys.Passphrase)))
	}
	rt.Keys = keystore.New(cfg.Keys.Dir, keyOpts...)

	backend, err := rt.openBackend(ctx, cfg.Store)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.Store = message.NewStore(backend)
	rt.closers = append(rt.closers, func(context.Context) error {
		return rt.Store.Close()
	})

	rt.Delivery = delivery.NewService(rt.Keys, rt.Store,
		delivery.WithMetrics(delivery.NewMetrics(rt.Registry)),
	)

	log.Info("runtime ready",
		zap.String("backend", cfg.Store.Backend),
		zap.String("keys_dir", cfg.Keys.Dir),
		zap.Bool("sealed_keys", cfg.Keys.Passphrase != ""),
	)
	return rt, nil
}

func (rt *Runtime) openBackend(ctx context.Context, cfg config.Store) (message.Backend, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return message.NewFileBackend(cfg.Dir)
	case config.BackendSQLite:
		return message.OpenSQLite(cfg.SQLite.Path)
	case config.BackendMongo:
		client, err := connectMongo(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, client.Disconnect)
		return message.NewMongoBackend(client.Database(cfg.Mongo.Database)), nil
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		svc := redisSvc.NewRedis(rdb)
		if err := retry(ctx, "redis", svc.Ping); err != nil {
			svc.Close()
			return nil, err
		}
		return message.NewRedisBackend(svc), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func connectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := retry(ctx, "mongo", func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	}); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

func retry(ctx context.Context, name string, ping func(context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	op := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return ping(pingCtx)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, connectRetries), ctx),
		func(err error, d time.Duration) {
			log.Warn("backend not reachable, retrying", zap.String("backend", name), zap.Duration("in", d), zap.Error(err))
		})
	if err != nil {
		return fmt.Errorf("ping %s: %w", name, err)
	}
	return nil
}

// Close releases the store and any client connections in reverse order of
// acquisition.
func (rt *Runtime) Close(ctx context.Context) error {
	var result *multierror.Error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	rt.closers = nil
	return result.ErrorOrNil()
}
