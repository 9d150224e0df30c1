package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"cookalert/internal/config"
	"cookalert/internal/core"
	"cookalert/internal/db"
	"cookalert/internal/db/dynamo"
	"cookalert/internal/db/sqlite"
	"cookalert/internal/events"
	"cookalert/internal/external"
	"cookalert/internal/queue"
	"cookalert/internal/reminders"
	"cookalert/internal/types"
)

// Container holds the wired dependencies of a cookalert process. Both the
// API and the reminder worker build one; each uses the parts it needs.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	Events  types.EventRepository
	Devices types.DeviceRepository

	Backend    queue.Backend
	Queue      *queue.Queue
	DeadLetter queue.DeadLetterSink

	Scheduler *reminders.Scheduler
	Consumer  *reminders.Consumer
	Metrics   reminders.Metrics

	// Probes report the event store and the delay queue on /api/health.
	Probes []core.HealthProbe

	log     types.Logger
	clock   types.Clock
	closers []io.Closer
	pools   map[string]*pgxpool.Pool
	awsCfg  *aws.Config
}

// New builds a Container from cfg. On error everything opened so far is
// closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{
		Config: cfg,
		Logger: logger,
		log:    NewSlogAdapter(logger),
		clock:  types.RealClock{},
		pools:  make(map[string]*pgxpool.Pool),
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"repositories", c.initRepositories},
		{"queue", c.initQueue},
		{"metrics", c.initMetrics},
		{"dead letter", c.initDeadLetter},
		{"reminders", c.initReminders},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("init %s: %w", step.name, err)
		}
	}
	return c, nil
}

// EventService returns the event lifecycle service bound to the container's
// repositories and scheduler.
func (c *Container) EventService() *events.Service {
	return events.NewService(
		c.Events,
		c.Devices,
		c.Scheduler,
		events.Config{CancelOnDelete: c.Config.Reminder.CancelOnDelete},
		c.clock,
		c.log,
	)
}

// NewWorker returns a queue worker that delivers reminders through the
// consumer. An empty id gets a random one.
func (c *Container) NewWorker(id string) *queue.Worker {
	return queue.NewWorker(c.Backend, c.Consumer.Handle, queue.WorkerConfig{
		ID:           id,
		PollInterval: c.Config.Queue.PollInterval,
		LeaseTimeout: c.Config.Queue.LeaseTimeout,
	},
		queue.WithClock(c.clock),
		queue.WithLogger(c.log),
		queue.WithObserver(c.Metrics),
		queue.WithDeadLetter(c.DeadLetter),
	)
}

// Closers returns the resources to release on shutdown, in open order.
func (c *Container) Closers() []io.Closer {
	return c.closers
}

// Close releases every resource in reverse open order.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) initRepositories(ctx context.Context) error {
	dbCfg := c.Config.Database
	switch dbCfg.Type {
	case config.DBTypePostgres:
		pool, err := c.postgres(ctx, dbCfg.URL.Unmask())
		if err != nil {
			return err
		}
		if dbCfg.AutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
		}
		c.Events = db.NewEventRepository(pool)
		c.Devices = db.NewDeviceRepository(pool)
		c.Probes = append(c.Probes, core.ProbeFunc{Label: "database", Fn: pool.Ping})

	case config.DBTypeDynamoDB:
		awsCfg, err := c.aws(ctx)
		if err != nil {
			return err
		}
		endpoint := dbCfg.DynamoEndpoint
		if endpoint == "" {
			endpoint = c.Config.AWS.EndpointURL
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		if dbCfg.AutoMigrate {
			if err := dynamo.EnsureTables(ctx, client, dbCfg.EventsTable, dbCfg.DevicesTable); err != nil {
				return err
			}
		}
		c.Events = dynamo.NewEventRepository(client, dbCfg.EventsTable)
		c.Devices = dynamo.NewDeviceRepository(client, dbCfg.DevicesTable)
		c.Probes = append(c.Probes, core.ProbeFunc{Label: "database", Fn: func(ctx context.Context) error {
			_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(dbCfg.EventsTable)})
			return err
		}})

	default:
		sqlDB, err := sqlite.Open(dbCfg.SQLitePath)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, sqlDB)
		c.Events = sqlite.NewEventRepository(sqlDB)
		c.Devices = sqlite.NewDeviceRepository(sqlDB)
		c.Probes = append(c.Probes, core.ProbeFunc{Label: "database", Fn: sqlPing(sqlDB)})
	}

	c.Logger.Info("event store ready", "type", dbCfg.Type)
	return nil
}

func (c *Container) initQueue(ctx context.Context) error {
	qCfg := c.Config.Queue
	switch qCfg.Backend {
	case config.QueueBackendMemory:
		c.Backend = queue.NewMemoryBackend()
		c.Logger.Warn("using in-memory delay queue; pending reminders are lost on restart")

	case config.QueueBackendPostgres:
		pool, err := c.postgres(ctx, qCfg.URL.Unmask())
		if err != nil {
			return err
		}
		backend := queue.NewPostgresBackend(pool)
		if c.Config.Database.AutoMigrate {
			if err := backend.EnsureSchema(ctx); err != nil {
				return err
			}
		}
		c.Backend = backend
		c.Probes = append(c.Probes, core.ProbeFunc{Label: "queue", Fn: pool.Ping})

	default:
		opts, err := redis.ParseURL(qCfg.URL.Unmask())
		if err != nil {
			return fmt.Errorf("parse queue url: %w", err)
		}
		client := redis.NewClient(opts)
		c.closers = append(c.closers, client)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		c.Backend = queue.NewRedisBackend(client, qCfg.KeyPrefix)
		c.Probes = append(c.Probes, core.ProbeFunc{Label: "queue", Fn: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
	}

	c.Queue = queue.NewQueue(c.Backend, c.clock, c.log)
	c.Logger.Info("delay queue ready", "backend", qCfg.Backend)
	return nil
}

func (c *Container) initMetrics(ctx context.Context) error {
	obs := c.Config.Observability
	if !obs.EnableMetrics {
		c.Metrics = reminders.NopMetrics{}
		return nil
	}
	awsCfg, err := c.aws(ctx)
	if err != nil {
		return err
	}
	client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if ep := c.Config.AWS.EndpointURL; ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
	})
	metrics := reminders.NewCloudWatchMetrics(client, obs.MetricNamespace, c.log)
	c.Metrics = metrics
	c.closers = append(c.closers, metrics)
	return nil
}

func (c *Container) initDeadLetter(ctx context.Context) error {
	url := c.Config.Queue.DLQURL
	if url == "" {
		c.DeadLetter = queue.NopDeadLetter{}
		return nil
	}
	awsCfg, err := c.aws(ctx)
	if err != nil {
		return err
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if ep := c.Config.AWS.EndpointURL; ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
	})
	c.DeadLetter = queue.NewSQSDeadLetter(client, url, c.clock, c.log)
	return nil
}

func (c *Container) initReminders(_ context.Context) error {
	rc := c.Config.Reminder
	c.Scheduler = reminders.NewScheduler(c.Queue, reminders.SchedulerConfig{
		LeadTime: rc.LeadTime(),
		JobOptions: queue.JobOptions{
			Attempts: rc.MaxAttempts,
			Backoff: queue.Backoff{
				Type:  queue.BackoffType(rc.BackoffType),
				Delay: rc.BackoffDelay,
				Max:   rc.BackoffMax,
			},
		},
	}, c.clock, c.log, c.Metrics)

	push := external.NewExpoClient(&http.Client{Timeout: c.Config.Push.Timeout}, external.ExpoClientConfig{
		AccessToken: c.Config.Push.AccessToken,
		BaseURL:     c.Config.Push.APIURL,
		Logger:      c.log,
	})
	c.Consumer = reminders.NewConsumer(c.Devices, push, reminders.MessageFormat{
		Location:     rc.Location(),
		DeepLinkBase: rc.DeepLinkBase,
	},
		reminders.WithConsumerLogger(c.log),
		reminders.WithConsumerMetrics(c.Metrics),
		reminders.WithConsumerClock(c.clock),
	)
	return nil
}

// postgres returns a pool for dsn, reusing one already opened for the same
// DSN so repositories and the queue can share connections.
func (c *Container) postgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if pool, ok := c.pools[dsn]; ok {
		return pool, nil
	}
	pool, err := db.NewPool(ctx, dsn, c.Config.Database)
	if err != nil {
		return nil, err
	}
	c.pools[dsn] = pool
	c.closers = append(c.closers, closerFunc(func() error {
		pool.Close()
		return nil
	}))
	return pool, nil
}

func (c *Container) aws(ctx context.Context) (aws.Config, error) {
	if c.awsCfg != nil {
		return *c.awsCfg, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.Config.AWS.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	c.awsCfg = &cfg
	return cfg, nil
}

func sqlPing(d *sql.DB) func(context.Context) error {
	return d.PingContext
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
