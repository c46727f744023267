package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"kyc-service/internal/bucketing"
	"kyc-service/internal/client"
	"kyc-service/internal/config"
	"kyc-service/internal/encryption"
	"kyc-service/internal/handler"
	"kyc-service/internal/hashing"
	redisrepo "kyc-service/internal/repository/redis"
	"kyc-service/internal/repository/scylla"
	"kyc-service/internal/service"
	"kyc-service/internal/storage"
	"kyc-service/internal/tls"
	"kyc-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	kafkaConsumer    *client.KafkaConsumer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	documentStore    storage.ObjectStore

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	// Side channels
	changeNotifier *redisrepo.ChangeNotifier
	changeFeed     *service.ChangeFeed
	indexer        *service.VerificationIndexer
	auditLog       *service.AuditLog

	serviceFactory *service.ServiceFactory

	background context.Context
	stop       context.CancelFunc
	workers    sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	background, stop := context.WithCancel(context.Background())
	factory := &Factory{
		config:     cfg,
		background: background,
		stop:       stop,
		closed:     make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(cfg.Server)
	}

	if err := factory.initializeClients(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	factory.initializeSideChannels()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.String("storage", cfg.Storage.Type),
	)

	return factory, nil
}

// initializeClients connects every backend. Scylla and the document store
// are required everywhere; the rest are required only in production.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// ScyllaDB
	scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("scylla: %w", err)
	}
	f.scyllaClient = scyllaClient
	if err := f.scyllaClient.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("scylla schema: %w", err)
	}
	util.Info("ScyllaDB client initialized and schema ready")

	// Document store
	store, err := storage.NewStoreFromConfig(ctx, f.config.Storage)
	if err != nil {
		return fmt.Errorf("document store: %w", err)
	}
	f.documentStore = store
	if err := store.HealthCheck(ctx); err != nil {
		initErrors = append(initErrors, fmt.Errorf("document store health check: %w", err))
	}

	// Redis
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		util.Info("Redis client initialized")
	}

	// Kafka
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
	} else {
		f.kafkaProducer = producer
		f.kafkaConsumer = client.NewKafkaConsumer(f.config, f.config.Kafka.ChangeTopic, f.config.Kafka.ConsumerGroup, util.Get())
	}

	// Elasticsearch
	if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
	} else {
		f.esClient = esClient
		if err := f.esClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
		}
	}

	// ClickHouse
	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = chClient
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %w", errors.Join(initErrors...))
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers() error {
	hasher, err := hashing.NewHasher(f.config)
	if err != nil {
		return fmt.Errorf("hasher: %w", err)
	}
	f.hasher = hasher

	var kmsClient encryption.KMSAPI
	if f.config.KMS.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			return fmt.Errorf("aws config: %w", err)
		}
		kmsClient = kms.NewFromConfig(awsCfg)
	}

	f.encryptionManager, err = encryption.NewEncryptionManager(f.config, kmsClient)
	if err != nil {
		return fmt.Errorf("encryption: %w", err)
	}
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	util.Info("Managers initialized successfully",
		util.Int("pepper_version", f.hasher.CurrentPepperVersion()),
		util.Int("user_buckets", f.bucketingManager.GetUserBuckets()),
	)
	return nil
}

// initializeSideChannels prepares the index, audit table and change feed.
// Each one that fails stays nil and its side effect is skipped.
func (f *Factory) initializeSideChannels() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if f.redisClient != nil {
		f.changeNotifier = redisrepo.NewChangeNotifier(f.redisClient)
	}

	var producer service.MessageProducer
	if f.kafkaProducer != nil {
		producer = f.kafkaProducer
	}
	var notifier service.ChangeNotifier
	if f.changeNotifier != nil {
		notifier = f.changeNotifier
	}
	if producer != nil || notifier != nil {
		f.changeFeed = service.NewChangeFeed(producer, notifier, f.config.Kafka.ChangeTopic)
	}

	if f.esClient != nil {
		indexer := service.NewVerificationIndexer(f.esClient, f.config.Elasticsearch.VerificationIndex)
		if err := indexer.EnsureIndex(ctx); err != nil {
			util.Warn("Verification index unavailable, search disabled", util.ErrorField(err))
		} else {
			f.indexer = indexer
		}
	}

	if f.clickhouseClient != nil {
		audit := service.NewAuditLog(f.clickhouseClient)
		if err := audit.EnsureTable(ctx); err != nil {
			util.Warn("Audit table unavailable, audit log disabled", util.ErrorField(err))
		} else {
			f.auditLog = audit
		}
	}
}

// ==============================
// Repositories and services
// ==============================

func (f *Factory) kycDeps() service.KYCDeps {
	deps := service.KYCDeps{
		Users:         scylla.NewUserRepository(f.scyllaClient, f.bucketingManager),
		Verifications: scylla.NewVerificationRepository(f.scyllaClient),
		Store:         f.documentStore,
		Encryptor:     f.encryptionManager,
	}
	// nil pointers must not leak into the interfaces
	if f.redisClient != nil {
		deps.Limiter = redisrepo.NewRateLimitCache(f.redisClient)
	}
	if f.changeFeed != nil {
		deps.Changes = f.changeFeed
	}
	if f.indexer != nil {
		deps.Indexer = f.indexer
	}
	if f.auditLog != nil {
		deps.Audit = f.auditLog
	}
	return deps
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		var presence service.PresenceStore
		if f.redisClient != nil {
			presence = redisrepo.NewPresenceCache(f.redisClient)
		}
		f.serviceFactory = service.NewServiceFactory(
			f.config,
			f.kycDeps(),
			presence,
			f.hasher,
			util.Get(),
		)
	}
	return f.serviceFactory
}

// ChangeSubscriber is nil when Redis is unavailable.
func (f *Factory) ChangeSubscriber() handler.ChangeSubscriber {
	if f.changeNotifier == nil {
		return nil
	}
	return f.changeNotifier
}

// PresenceAvailable reports whether presence can be stored.
func (f *Factory) PresenceAvailable() bool {
	return f.redisClient != nil
}

// StartReconciler follows the change feed in the background until Close.
func (f *Factory) StartReconciler() {
	if f.kafkaConsumer == nil || !f.config.KYC.ReconcilerEnabled {
		util.Info("KYC reconciler not started", util.Bool("kafka_available", f.kafkaConsumer != nil))
		return
	}
	reconciler := service.NewReconciler(f.kafkaConsumer, f.ServiceFactory().KYCService(), util.Named("reconciler"))

	f.workers.Add(1)
	go func() {
		defer f.workers.Done()
		if err := reconciler.Run(f.background); err != nil {
			util.Error("KYC reconciler exited", util.ErrorField(err))
		}
	}()
}

// ==============================
// Health Checks
// ==============================

// HealthChecks returns one probe per backend for the health route.
func (f *Factory) HealthChecks() map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{
		"scylla":  f.scyllaClient.HealthCheck,
		"storage": f.documentStore.HealthCheck,
	}
	if f.redisClient != nil {
		checks["redis"] = f.redisClient.HealthCheck
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer.HealthCheck
	}
	if f.esClient != nil {
		checks["elasticsearch"] = f.esClient.HealthCheck
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient.HealthCheck
	}
	return checks
}

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)
	for name, check := range f.HealthChecks() {
		if err := check(ctx); err != nil {
			healthErrors[name] = err
		}
	}
	return healthErrors
}

// IsHealthy ignores the optional side-channel backends.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	delete(healthErrors, "elasticsearch")
	delete(healthErrors, "clickhouse")
	return len(healthErrors) == 0
}

// ==============================
// Shutdown
// ==============================

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		f.stop()
		f.workers.Wait()

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaConsumer != nil {
			if err := f.kafkaConsumer.Close(); err != nil {
				util.Error("Failed to close Kafka consumer", util.ErrorField(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Info("Factory shutdown completed")
		util.Sync()
		close(f.closed)
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) AuditLog() *service.AuditLog {
	return f.auditLog
}
