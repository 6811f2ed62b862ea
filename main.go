package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	appcmd "github.com/saadkhalid-git/agentic-knowledge-graph/cmd"
	"github.com/saadkhalid-git/agentic-knowledge-graph/kg"
)

func main() {
	logFormat := getenvDefault("AKG_LOG_FORMAT", "text")
	logger := newLogger(logFormat)

	dataDir := getenvDefault("AKG_DATA_DIR", "./data")
	plansDir := getenvDefault("AKG_PLANS_DIR", "./.plans")
	addr := getenvDefault("AKG_HTTP_ADDR", "127.0.0.1:8080")
	runOnce := getenvBoolDefault(logger, "AKG_RUN_ONCE", false)

	ctx := context.Background()

	// Graph store: Neo4j is the only backend; the URI is mandatory.
	neo4jURI := getenvDefault("AKG_NEO4J_URI", "bolt://localhost:7687")
	store, err := kg.NewNeo4jStoreFromURI(ctx, kg.Neo4jConfig{
		URI:      neo4jURI,
		User:     getenvDefault("AKG_NEO4J_USER", "neo4j"),
		Password: os.Getenv("AKG_NEO4J_PASSWORD"),
		Database: os.Getenv("AKG_NEO4J_DATABASE"),
	})
	if err != nil {
		logger.Error("connect neo4j", "uri", neo4jURI, "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(closeCtx)
	}()

	// Artifact store: S3 when a bucket is configured, local plans dir
	// otherwise.
	var artifacts kg.ArtifactStore = &kg.LocalArtifactStore{Root: plansDir}
	if bucket := os.Getenv("AKG_ARTIFACT_S3_BUCKET"); bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Error("load aws config", "error", err)
			os.Exit(1)
		}
		pathStyle := getenvBoolDefault(logger, "AKG_ARTIFACT_S3_PATH_STYLE", false)
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = pathStyle
		})
		prefix := getenvDefault("AKG_ARTIFACT_S3_PREFIX", "kg/")
		artifacts = kg.NewS3ArtifactStore(client, bucket, prefix)
		logger.Info("configured s3 artifact store", "bucket", bucket, "prefix", prefix)
	}

	opts := []kg.Option{kg.WithLogger(logger)}

	// Run ledger: MongoDB or artifact-backed (default).
	if mongoURI := os.Getenv("AKG_RUNS_MONGO_URI"); mongoURI != "" {
		mongoDB := getenvDefault("AKG_RUNS_MONGO_DB", "akg")
		mongoColl := getenvDefault("AKG_RUNS_MONGO_COLLECTION", "runs")

		mongoClient, err := mongo.Connect(mongooptions.Client().ApplyURI(mongoURI))
		if err != nil {
			logger.Error("mongo connect", "error", err)
			os.Exit(1)
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()
		if err := mongoClient.Ping(pingCtx, nil); err != nil {
			logger.Error("mongo ping", "error", err)
			os.Exit(1)
		}
		defer func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoClient.Disconnect(disconnectCtx)
		}()
		coll := mongoClient.Database(mongoDB).Collection(mongoColl)
		opts = append(opts, kg.WithLedger(kg.NewMongoRunLedger(coll)))
		logger.Info("configured mongo run ledger", "db", mongoDB, "collection", mongoColl)
	} else {
		opts = append(opts, kg.WithLedger(&kg.ArtifactRunLedger{Store: artifacts}))
	}

	// Run leases: Redis for multi-instance deployments, in-memory otherwise.
	if redisAddr := os.Getenv("AKG_REDIS_ADDR"); redisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: os.Getenv("AKG_REDIS_PASSWORD"),
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Error("redis ping", "addr", redisAddr, "error", err)
			os.Exit(1)
		}
		mgr, err := kg.NewRedisRunLeaseManager(client, os.Getenv("AKG_REDIS_LEASE_PREFIX"))
		if err != nil {
			logger.Error("redis lease manager", "error", err)
			os.Exit(1)
		}
		opts = append(opts, kg.WithLeaseManager(mgr))
		logger.Info("configured redis run leases", "addr", redisAddr)
	}
	if ttl := getenvDurationDefault(logger, "AKG_RUN_LEASE_TTL", 0); ttl > 0 {
		opts = append(opts, kg.WithLeaseTTL(ttl))
	}

	// Sampler: DuckDB pushes sampling into read_csv for large sources.
	if getenvDefault("AKG_SAMPLER", "csv") == "duckdb" {
		sampler := &kg.DuckDBSampler{MemoryLimit: getenvDefault("AKG_DUCKDB_MEMORY_LIMIT", "128MB")}
		opts = append(opts, kg.WithSampler(sampler))
		logger.Info("configured duckdb sampler", "memory_limit", sampler.MemoryLimit)
	}

	// Extractor: Ollama turns selected text sources into the subject graph.
	if getenvBoolDefault(logger, "AKG_EXTRACTOR_ENABLED", false) {
		ollamaURL := getenvDefault("AKG_OLLAMA_URL", "http://localhost:11434")
		ollamaModel := getenvDefault("AKG_OLLAMA_MODEL", "gemma3:4b")
		extractor := kg.NewOllamaExtractor(ollamaURL, ollamaModel)
		extractor.MaxParallel = getenvIntDefault(logger, "AKG_OLLAMA_PARALLELISM", 4)
		opts = append(opts, kg.WithExtractor(extractor))
		logger.Info("configured ollama extractor", "url", ollamaURL, "model", ollamaModel, "parallelism", extractor.MaxParallel)
	} else {
		logger.Info("entity extraction disabled", "hint", "set AKG_EXTRACTOR_ENABLED=true to enable")
	}

	if threshold := getenvFloatDefault(logger, "AKG_SIMILARITY_THRESHOLD", 0); threshold > 0 {
		opts = append(opts, kg.WithSimilarityThreshold(threshold))
	}
	if batch := getenvIntDefault(logger, "AKG_WRITE_BATCH_SIZE", 0); batch > 0 {
		opts = append(opts, kg.WithWriteBatchSize(batch))
	}

	pipeline := kg.NewPipeline(store, dataDir, artifacts, opts...)
	if datasetID := os.Getenv("AKG_DATASET_ID"); datasetID != "" {
		pipeline.DatasetID = datasetID
	}

	if runOnce {
		result, err := pipeline.Build(ctx, kg.BuildRequest{
			Reset:                getenvBoolDefault(logger, "AKG_BUILD_RESET", false),
			ForceRegeneratePlans: getenvBoolDefault(logger, "AKG_BUILD_FORCE", false),
		})
		if err != nil {
			logger.Error("build failed to start", "error", err)
			os.Exit(1)
		}
		logger.Info("build finished",
			"run_id", result.RunID,
			"status", result.Status,
			"phase", result.Phase,
			"duration_seconds", result.ExecutionSeconds,
		)
		if result.Status != "success" {
			os.Exit(1)
		}
		return
	}

	appCfg := appcmd.AppConfig{
		Address:           addr,
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		Logger:            logger,
	}
	app := appcmd.NewApp(pipeline, appCfg)

	if err := app.Start(); err != nil {
		logger.Error("start app", "error", err)
		os.Exit(1)
	}
	logger.Info("listening", "address", app.Address(), "dataset_id", pipeline.DatasetID, "data_dir", dataDir)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-sigCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownTimeout)
		defer cancel()
		if err := app.Stop(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	if err := app.Wait(); err != nil {
		logger.Error("app exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func getenvDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvDurationDefault(logger *slog.Logger, key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("invalid duration env var", "key", key, "value", v, "error", err)
		os.Exit(1)
	}
	return d
}

func getenvIntDefault(logger *slog.Logger, key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("invalid integer env var", "key", key, "value", v, "error", err)
		os.Exit(1)
	}
	return n
}

func getenvFloatDefault(logger *slog.Logger, key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 || f > 1 {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("invalid float env var", "key", key, "value", v, "error", err)
		os.Exit(1)
	}
	return f
}

func getenvBoolDefault(logger *slog.Logger, key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("invalid boolean env var", "key", key, "value", v, "error", err)
		os.Exit(1)
	}
	return b
}
