package main

import (
	"log"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"ExplainerVideo-server/config"
	"ExplainerVideo-server/llm"
	"ExplainerVideo-server/models"
	"ExplainerVideo-server/registry"
	"ExplainerVideo-server/render"
	"ExplainerVideo-server/routers"
	"ExplainerVideo-server/routers/api"
	"ExplainerVideo-server/script"
	"ExplainerVideo-server/service"
	"ExplainerVideo-server/source"
	"ExplainerVideo-server/storage"
	"ExplainerVideo-server/voiceover"
	"ExplainerVideo-server/workspace"
)

func main() {
	config.InitConfig(config.DefaultPath)
	cfg := config.AppConfig
	log.Println("Server starting on port", cfg.Server.Port)

	store := models.InitDB()
	log.Println("Database initialized")

	var rdb *redis.Client
	if cfg.Registry.Backend == "redis" || cfg.Worker.Mode == "queue" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	pipelines, progress := initRegistries(cfg, rdb)

	objects := initStorage(cfg)
	log.Printf("Object storage: %s", cfg.Storage.Provider)

	var client llm.Client
	if cfg.LLM.APIKey != "" {
		client = llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
	} else {
		log.Println("[LLM] no api key configured, layouts use deterministic fallbacks")
	}

	scriptSynth := script.NewSynthesizer(client)

	narrator := voiceover.NewSynthesizer(
		voiceover.NewHTTPTTS(cfg.TTS.APIURL, cfg.TTS.APIKey, cfg.TTS.Model),
		voiceover.FFProbe{},
		store,
		objects,
		cfg.Workspace.MediaDir,
	)
	narrator.Attempts = cfg.TTS.Attempts
	narrator.RetryDelay = cfg.TTS.RetryDelay.Std()
	narrator.SceneDelay = cfg.TTS.SceneDelay.Std()
	if cfg.LLM.NarrationAssist && client != nil {
		narrator.Assist = voiceover.NewNarrationAssist(client)
	}

	runner := render.NewRunner(progress, cfg.Render.Command, cfg.Render.Args)
	runner.GracePeriod = cfg.Render.GracePeriod.Std()

	o := service.NewOrchestrator(service.Options{
		Store:             store,
		Pipelines:         pipelines,
		Scraper:           source.NewHTTPScraper(),
		Script:            scriptSynth,
		LayoutLLM:         client,
		Narrator:          narrator,
		Workspace:         workspace.NewWriter(cfg.Workspace.Root),
		Renderer:          runner,
		Objects:           objects,
		MediaDir:          cfg.Workspace.MediaDir,
		LayoutRetries:     cfg.LLM.LayoutRetries,
		LayoutTemperature: cfg.LLM.Temperature,
		StaleAfter:        cfg.Pipeline.StaleAfter.Std(),
		RenderOutputName:  cfg.Render.OutputName,
	})

	if cfg.Worker.Mode == "queue" {
		redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		queueClient := asynq.NewClient(redisOpt)
		defer queueClient.Close()
		o.Dispatcher = service.NewQueueDispatcher(queueClient)
		log.Println("Queue initialized")

		processor := service.NewProcessor(o)
		if err := processor.StartProcessor(redisOpt, cfg.Worker.Concurrency); err != nil {
			log.Fatalf("启动任务消费者失败: %v", err)
		}
		defer processor.Shutdown()
	} else {
		log.Println("Generation runs inline")
	}

	sweeper := service.NewRetentionSweeper(o, cfg.Retention.Schedule, cfg.Retention.FreeTierDays)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("启动清理任务失败: %v", err)
	}
	defer sweeper.Stop()

	r := routers.InitRouter(api.NewHandler(o))
	if err := r.Run(cfg.Server.Port); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func initRegistries(cfg *config.Config, rdb *redis.Client) (registry.Store[service.PipelineRecord], registry.Store[render.Progress]) {
	if cfg.Registry.Backend == "redis" {
		ttl := cfg.Registry.TTL.Std()
		log.Printf("Progress registry: redis %s", cfg.Redis.Addr)
		return registry.NewRedis[service.PipelineRecord](rdb, "explainer:pipeline:", ttl),
			registry.NewRedis[render.Progress](rdb, "explainer:render:", ttl)
	}
	log.Println("Progress registry: in-process memory")
	return registry.NewMemory[service.PipelineRecord](), registry.NewMemory[render.Progress]()
}

func initStorage(cfg *config.Config) storage.ObjectStore {
	switch cfg.Storage.Provider {
	case "minio":
		s, err := storage.NewMinIO(storage.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
			Domain:    cfg.MinIO.Domain,
		})
		if err != nil {
			log.Fatalf("%v", err)
		}
		return s
	case "supabase":
		return storage.NewSupabase(cfg.Supabase.URL, cfg.Supabase.ServiceKey, cfg.Supabase.Bucket)
	}
	return storage.Nop{}
}
