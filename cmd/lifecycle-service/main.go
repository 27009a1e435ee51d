package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	_ "github.com/lib/pq"

	"github.com/tenantops/lab-lifecycle/internal/action"
	"github.com/tenantops/lab-lifecycle/internal/audit"
	"github.com/tenantops/lab-lifecycle/internal/config"
	"github.com/tenantops/lab-lifecycle/internal/dispatcher"
	"github.com/tenantops/lab-lifecycle/internal/httpserver"
	"github.com/tenantops/lab-lifecycle/internal/lifecycle"
	"github.com/tenantops/lab-lifecycle/internal/models"
	"github.com/tenantops/lab-lifecycle/internal/params"
	"github.com/tenantops/lab-lifecycle/internal/queue"
	"github.com/tenantops/lab-lifecycle/internal/store"
	"github.com/tenantops/lab-lifecycle/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var awsOpts []func(*awsConfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		awsOpts = append(awsOpts, awsConfig.WithRegion(cfg.AWSRegion))
	}
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		log.Fatalf("aws config: %v", err)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	st := store.NewDynamoStore(dynamoClient, cfg.DeploymentTable)
	labs := store.NewDynamoLabConfigStore(dynamoClient, cfg.LabConfigTable)

	resolver := params.NewSSMResolver(ssm.NewFromConfig(awsCfg))
	invoker := action.NewLambdaInvoker(lambda.NewFromConfig(awsCfg), action.LambdaRoutes{
		NamespaceCreateFn: cfg.NamespaceCreateFn,
		NamespaceRemoveFn: cfg.NamespaceRemoveFn,
		UserCreateFn:      cfg.UserCreateFn,
		UserRemoveFn:      cfg.UserRemoveFn,
	})

	recorder := setupAudit(ctx, cfg, awsCfg)

	disp := dispatcher.New(st, recorder, cfg.TTLExtension)
	provisioner := lifecycle.NewProvisioner(st, labs, resolver, invoker, recorder)
	reclaimer := lifecycle.NewReclaimer(st, labs, invoker, recorder)
	router := lifecycle.NewRouter(provisioner, reclaimer)

	events := make(chan models.ChangeEvent, 128)
	go func() {
		if err := router.Run(ctx, events); err != nil && err != context.Canceled {
			log.Printf("router stopped: %v", err)
		}
	}()

	if cfg.StreamARN != "" {
		consumer := stream.NewConsumer(dynamodbstreams.NewFromConfig(awsCfg), cfg.StreamARN, events)
		go func() {
			if err := consumer.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("stream consumer stopped: %v", err)
			}
		}()
	} else {
		log.Printf("DEPLOYMENT_STREAM_ARN unset; reclamation will not be triggered")
	}

	sweeper := store.NewSweeper(st, recorder, cfg.SweepInterval)
	go func() {
		if err := sweeper.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("sweeper stopped: %v", err)
		}
	}()

	if cfg.QueueURL != "" {
		consumer := queue.NewConsumer(sqs.NewFromConfig(awsCfg), cfg.QueueURL, disp)
		go func() {
			if err := consumer.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("queue consumer stopped: %v", err)
			}
		}()
	}

	server := httpserver.New(cfg, disp, st, labs)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}
	go func() {
		log.Printf("lifecycle service listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
}

// setupAudit wires the optional audit trail: Postgres first, then the
// DB-first streamer into Kafka and S3 when brokers/bucket are configured.
func setupAudit(ctx context.Context, cfg config.Config, awsCfg aws.Config) *audit.Recorder {
	if cfg.AuditDatabaseURL == "" {
		log.Printf("AUDIT_DATABASE_URL unset; lifecycle audit trail disabled")
		return nil
	}
	db, err := sql.Open("postgres", cfg.AuditDatabaseURL)
	if err != nil {
		log.Fatalf("audit db open: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("audit db ping: %v", err)
	}
	auditStore := audit.NewPGStore(db)

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := audit.NewKafkaProducer(audit.KafkaProducerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka producer: %v", err)
		}
		var archiver audit.Archiver
		if cfg.AuditBucket != "" {
			archiver, err = audit.NewS3Archiver(s3.NewFromConfig(awsCfg), cfg.AuditBucket, cfg.AuditPrefix)
			if err != nil {
				log.Fatalf("s3 archiver: %v", err)
			}
		}
		streamer := audit.NewStreamer(auditStore, producer, archiver, audit.StreamerConfig{})
		go func() {
			if err := streamer.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("audit streamer stopped: %v", err)
			}
		}()
	}

	return audit.NewRecorder(auditStore)
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
