// Package app assembles the gate's services from configuration. Both the HTTP
// server and the operator CLI build on it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/compliance-gate/internal/api"
	"github.com/ignite/compliance-gate/internal/config"
	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/notify"
	"github.com/ignite/compliance-gate/internal/pkg/awsconfig"
	"github.com/ignite/compliance-gate/internal/pkg/distlock"
	"github.com/ignite/compliance-gate/internal/pkg/logger"
	"github.com/ignite/compliance-gate/internal/repository/memory"
	"github.com/ignite/compliance-gate/internal/repository/postgres"
	"github.com/ignite/compliance-gate/internal/service/audit"
	"github.com/ignite/compliance-gate/internal/service/consent"
	"github.com/ignite/compliance-gate/internal/service/gate"
	"github.com/ignite/compliance-gate/internal/service/lockdown"
	"github.com/ignite/compliance-gate/internal/service/policy"
	"github.com/ignite/compliance-gate/internal/service/timewindow"
	"github.com/ignite/compliance-gate/internal/service/touch"
)

// Repositories is one backing store for every service.
type Repositories struct {
	Contacts gate.ContactRepository
	Controls gate.ControlRepository
	Consent  consent.Repository
	Touches  touch.Repository
	Audit    audit.Repository
	Policy   policy.Repository
	Lockdown lockdown.Repository
	Context  timewindow.Repository
}

// PostgresRepositories backs every service with PostgreSQL.
func PostgresRepositories(db *sql.DB) Repositories {
	return Repositories{
		Contacts: postgres.NewContactRepo(db),
		Controls: postgres.NewControlRepo(db),
		Consent:  postgres.NewConsentRepo(db),
		Touches:  postgres.NewTouchRepo(db),
		Audit:    postgres.NewAuditRepo(db),
		Policy:   postgres.NewRuleRepo(db),
		Lockdown: postgres.NewLockdownRepo(db),
		Context:  postgres.NewContextRepo(db),
	}
}

// MemoryRepositories backs every service with one in-process store.
func MemoryRepositories(s *memory.Store) Repositories {
	return Repositories{
		Contacts: s, Controls: s, Consent: s, Touches: s,
		Audit: s, Policy: s, Lockdown: s, Context: s,
	}
}

// App holds the assembled services and the connections they share.
type App struct {
	Config *config.Config

	DB    *sql.DB
	Redis *redis.Client
	NATS  *nats.Conn

	Policies      *policy.Store
	Consent       *consent.Ledger
	Touches       *touch.Ledger
	Audit         *audit.Trail
	Windows       *timewindow.Evaluator
	Monitor       *lockdown.Monitor
	EmergencyStop *gate.EmergencySwitch
	Gate          *gate.Gate
	Runner        *lockdown.Runner
	Health        *api.HealthChecker

	dispatcher *notify.Dispatcher
}

// New connects to every configured backend and builds the services. An empty
// database URL runs on the in-memory store, for local development only.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	var repos Repositories
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = db
		if cfg.Database.MigrateOnStart {
			if err := postgres.Migrate(db); err != nil {
				a.Close()
				return nil, err
			}
			logger.Info("database migrations applied")
		}
		repos = PostgresRepositories(db)
	} else {
		logger.Warn("no DATABASE_URL configured, using the in-memory store")
		repos = MemoryRepositories(memory.NewStore())
	}

	if cfg.Redis.URL != "" {
		rc, err := connectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rc
	}

	var awsCfg *aws.Config
	if needsAWS(cfg) {
		c, err := awsconfig.Load(ctx, cfg.AWS)
		if err != nil {
			a.Close()
			return nil, err
		}
		awsCfg = &c
	}

	notifier, err := a.buildNotifier(cfg.Notify, awsCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.dispatcher = notify.NewDispatcher(notifier, cfg.Notify.Timeout())

	var s3Client *s3.Client
	var sinks []audit.Sink
	if awsCfg != nil && cfg.Audit.S3Bucket != "" {
		s3Client = s3.NewFromConfig(*awsCfg)
		sinks = append(sinks, audit.NewS3Sink(s3Client, cfg.Audit.S3Bucket, cfg.Audit.S3Prefix))
	}
	if awsCfg != nil && cfg.Audit.DynamoTable != "" {
		retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
		sinks = append(sinks, audit.NewDynamoSink(dynamodb.NewFromConfig(*awsCfg), cfg.Audit.DynamoTable, retention))
	}

	table, err := timewindow.NewAreaCodeTable(cfg.TimeWindow.AreaCodes, cfg.TimeWindow.DefaultTimezone)
	if err != nil {
		a.Close()
		return nil, err
	}

	readTimeout := cfg.Gate.SafetyReadTimeout()
	a.Policies = policy.NewStore(repos.Policy, PolicyDefaults(cfg), cfg.Policy.CacheTTL()).
		WithLookupTimeout(cfg.Policy.LookupTimeout())
	a.Consent = consent.NewLedger(repos.Consent, readTimeout)
	a.Touches = touch.NewLedger(repos.Touches, readTimeout)
	a.Audit = audit.NewTrail(repos.Audit, sinks...)
	a.Windows = timewindow.NewEvaluator(table, repos.Context, a.Policies).
		WithLookupTimeout(cfg.Policy.LookupTimeout())
	a.Monitor = lockdown.NewMonitor(repos.Lockdown, a.Policies, a.Audit, a.dispatcher, readTimeout)
	a.EmergencyStop = gate.NewEmergencySwitch(repos.Controls, a.Redis, cfg.Gate.EmergencyStopCacheTTL(), readTimeout).
		WithAudit(a.Audit).
		WithNotifier(a.dispatcher)

	deps := gate.Dependencies{
		Contacts:      repos.Contacts,
		EmergencyStop: a.EmergencyStop,
		Lockdowns:     a.Monitor,
		Consent:       a.Consent,
		Touches:       a.Touches,
		Windows:       a.Windows,
		Policies:      a.Policies,
		Audit:         a.Audit,
	}
	gateCfg := gate.ConfigFrom(cfg.Gate)
	if a.Redis != nil {
		deps.Counter = touch.NewRedisWindowCounter(a.Redis)
		deps.Spend = gate.NewRedisSpendTracker(a.Redis)
	} else if gateCfg.StrictCaps {
		logger.Warn("strict caps requested without Redis, falling back to best-effort caps")
		gateCfg.StrictCaps = false
	}
	a.Gate = gate.New(gateCfg, deps)

	if cfg.Lockdown.Enabled {
		lock := distlock.NewLock(a.Redis, a.DB, lockdown.LockKey, 2*cfg.Lockdown.Interval())
		a.Runner = lockdown.NewRunner(a.Monitor, lock, cfg.Lockdown.Interval())
	}

	var bucket api.BucketHeader
	if s3Client != nil {
		bucket = s3Client
	}
	a.Health = api.NewHealthChecker(a.DB, a.Redis, bucket, cfg.Audit.S3Bucket, a.EmergencyStop)

	if _, err := a.Policies.Load(ctx); err != nil {
		logger.Warn("initial policy load failed, serving defaults", "error", err)
	}
	return a, nil
}

// Handlers returns the HTTP handler set over the app's services.
func (a *App) Handlers() *api.Handlers {
	return api.NewHandlers(api.Deps{
		Gate:          a.Gate,
		Monitor:       a.Monitor,
		EmergencyStop: a.EmergencyStop,
		Policies:      a.Policies,
		Consent:       a.Consent,
		Windows:       a.Windows,
		Audit:         a.Audit,
	})
}

// Close waits for pending alerts and closes every connection.
func (a *App) Close() {
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}
	if a.NATS != nil {
		a.NATS.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

// PolicyDefaults maps the configured caps, call hours and consent
// requirement onto the policy fallback.
func PolicyDefaults(cfg *config.Config) policy.Defaults {
	d := policy.DefaultDefaults()
	for scope, c := range cfg.Gate.FrequencyCaps {
		if c.Limit <= 0 || c.WindowHours <= 0 {
			continue
		}
		d.ChannelCaps[scope] = policy.Cap{Limit: c.Limit, Window: c.Window(), Enforcement: domain.EnforceBlock}
	}
	if cfg.TimeWindow.CallEndHour > cfg.TimeWindow.CallStartHour {
		d.CallStartHour = cfg.TimeWindow.CallStartHour
		d.CallEndHour = cfg.TimeWindow.CallEndHour
	}
	d.RequireConsent = cfg.Gate.ConsentRequired()
	return d
}

func (a *App) buildNotifier(cfg config.NotifyConfig, awsCfg *aws.Config) (notify.Notifier, error) {
	var sinks notify.Multi
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookNotifier(cfg.WebhookURL, nil))
	}
	if cfg.NATSURL != "" {
		nc, err := notify.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		a.NATS = nc
		sinks = append(sinks, notify.NewNATSNotifier(nc, cfg.NATSSubject))
	}
	if awsCfg != nil && cfg.SQSQueueURL != "" {
		sinks = append(sinks, notify.NewSQSNotifier(sqs.NewFromConfig(*awsCfg), cfg.SQSQueueURL))
	}
	if awsCfg != nil && cfg.EmailFrom != "" && len(cfg.EmailTo) > 0 {
		sinks = append(sinks, notify.NewEmailNotifier(sesv2.NewFromConfig(*awsCfg), cfg.EmailFrom, cfg.EmailTo))
	}
	if len(sinks) == 0 {
		logger.Info("no alert sinks configured")
		return notify.Noop{}, nil
	}
	logger.Info("alert sinks configured", "count", len(sinks))
	return sinks, nil
}

func needsAWS(cfg *config.Config) bool {
	return cfg.Audit.S3Bucket != "" ||
		cfg.Audit.DynamoTable != "" ||
		cfg.Notify.SQSQueueURL != "" ||
		(cfg.Notify.EmailFrom != "" && len(cfg.Notify.EmailTo) > 0)
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	rc := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return rc, nil
}
