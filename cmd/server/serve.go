package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"docqa-go/internal/config"
	"docqa-go/internal/handler"
	"docqa-go/internal/middleware"
	"docqa-go/internal/pipeline"
	"docqa-go/internal/repository"
	"docqa-go/internal/service"
	"docqa-go/pkg/database"
	"docqa-go/pkg/embedding"
	"docqa-go/pkg/es"
	"docqa-go/pkg/events"
	"docqa-go/pkg/kafka"
	"docqa-go/pkg/llm"
	"docqa-go/pkg/log"
	"docqa-go/pkg/storage"
	"docqa-go/pkg/tika"
	"docqa-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// 启动探测的最长时间
const startupProbeTimeout = 30 * time.Second

func serve(configPath string) error {
	// 1. 初始化配置
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	if err := cfg.Validate(); err != nil {
		log.Errorf("配置校验失败: %v", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化可选的 Redis 与 MySQL
	if cfg.Redis.Enabled {
		if err := database.InitRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
			log.Warnf("Redis 初始化失败, 向量缓存与消费重试计数将不可用: %v", err)
		}
	}
	var auditRepo repository.AuditRepository
	if cfg.MySQL.Enabled {
		if err := database.InitMySQL(cfg.MySQL.DSN); err != nil {
			log.Errorf("MySQL 初始化失败, 查询审计将不会落库: %v", err)
		} else {
			auditRepo = repository.NewAuditRepository(database.DB)
		}
	}

	// 4. 初始化共享后端：向量模型与检索索引
	embeddingClient := embedding.NewClient(cfg.Embedding)
	if database.RDB != nil {
		cache := repository.NewEmbeddingCacheRepository(database.RDB)
		embeddingClient = embedding.NewCachedClient(embeddingClient, cache, cfg.Embedding.Model, cfg.Embedding.CacheTTL)
	}
	generator := embedding.NewGenerator(embeddingClient, cfg.Embedding.Dimensions)

	esClient, err := es.NewClient(cfg.Elasticsearch)
	if err != nil {
		log.Errorf("Elasticsearch 客户端创建失败: %v", err)
	}
	docRepo := repository.NewDocumentRepository(esClient, cfg.Elasticsearch, cfg.AI.Search.SnippetChars)

	// 探测失败不退出进程，资源保持不可用状态，由依赖它的接口返回原因
	probeCtx, cancelProbe := context.WithTimeout(ctx, startupProbeTimeout)
	var g errgroup.Group
	g.Go(func() error { return generator.Init(probeCtx) })
	g.Go(func() error { return docRepo.Init(probeCtx, cfg.Embedding.Dimensions) })
	if err := g.Wait(); err != nil {
		log.Errorf("后端初始化未完全成功, 服务以降级状态启动: %v", err)
	}
	cancelProbe()

	// 5. 审计事件：有 Kafka 时异步投递，只有 MySQL 时直接落库
	var sink events.Sink = events.NopSink{}
	var producer *kafka.Producer
	switch {
	case cfg.Kafka.Enabled:
		producer = kafka.NewProducer(cfg.Kafka)
		sink = producer
		if auditRepo != nil {
			go kafka.StartConsumer(ctx, cfg.Kafka, pipeline.NewAuditProcessor(auditRepo))
		}
	case auditRepo != nil:
		sink = events.SinkFunc(pipeline.NewAuditProcessor(auditRepo).Process)
	}

	// 6. 初始化 Service (依赖注入)
	llmClient := llm.NewClient(cfg.LLM)
	utilityClient := llm.WithBreaker(llmClient, cfg.LLM.Breaker)
	classifier := service.NewIntentClassifier(utilityClient, cfg.LLM.UtilityModel, cfg.AI.Intent)
	extractor := service.NewKeywordExtractor(utilityClient, cfg.LLM.UtilityModel, cfg.AI.Intent.Timeout)
	streamer := service.NewResponseStreamer(llmClient, cfg.AI.Prompt, llm.DefaultGenerationParams(cfg.LLM.Generation))
	chatService := service.NewChatService(classifier, extractor, generator, docRepo, streamer, sink, cfg.LLM, cfg.AI.Search)
	searchService := service.NewSearchService(generator, docRepo, cfg.AI.Search)
	documentService := service.NewDocumentService(docRepo)

	var sourceService service.SourceService
	if cfg.MinIO.Enabled {
		store, err := storage.NewMinIOStore(ctx, cfg.MinIO)
		if err != nil {
			log.Errorf("MinIO 初始化失败, 外部文档接口不可用: %v", err)
		} else {
			sourceService = service.NewSourceService(store, tika.NewClient(cfg.Tika))
		}
	}

	// 7. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.UseRawPath = true
	r.Use(middleware.RequestID(), middleware.RequestLogger("/api/chat", "/api/chat/ws"), middleware.Metrics(), gin.Recovery())

	r.GET("/healthz", handler.NewHealthHandler(map[string]handler.Backend{
		"elasticsearch": docRepo,
		"embedding":     generator,
	}).Health)
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	if cfg.JWT.Secret != "" {
		api.Use(middleware.AuthMiddleware(token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours)))
	} else {
		log.Warnf("jwt.secret 未配置, API 不启用鉴权")
	}
	{
		chatHandler := handler.NewChatHandler(chatService)
		api.POST("/chat", chatHandler.Chat)
		api.GET("/chat/ws", chatHandler.HandleWebsocket)

		api.POST("/search", handler.NewSearchHandler(searchService).Search)

		docHandler := handler.NewDocumentHandler(documentService)
		api.GET("/files", docHandler.ListFiles)
		api.GET("/files/:id", docHandler.GetFile)

		if sourceService != nil {
			sourceHandler := handler.NewSourceHandler(sourceService)
			api.GET("/sources/documents", sourceHandler.ListDocuments)
			api.GET("/sources/documents/*id", sourceHandler.ExportDocument)
		}
		if auditRepo != nil {
			auditHandler := handler.NewAuditHandler(auditRepo)
			api.GET("/audit/summary", auditHandler.Summary)
			api.GET("/audit/requests/:requestId", auditHandler.Get)
		}
	}

	// 8. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP 服务监听失败: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("Kafka 生产者关闭失败: %v", err)
		}
	}
	log.Info("服务已优雅关闭")
	return nil
}
