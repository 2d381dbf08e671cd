package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
)

// Processor 消费队列中的生成任务
type Processor struct {
	orchestrator *Orchestrator
	srv          *asynq.Server
}

func NewProcessor(o *Orchestrator) *Processor {
	return &Processor{orchestrator: o}
}

// Mux registers the task handlers.
func (p *Processor) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGenerateProject, p.HandleGenerateProject)
	return mux
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(redisOpt asynq.RedisConnOpt, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 4
	}
	p.srv = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueGenerate: 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			log.Printf("[Queue] task %s failed: %v", t.Type(), err)
		}),
	})

	log.Printf("[Queue] Starting generation processor with concurrency %d...", concurrency)
	if err := p.srv.Start(p.Mux()); err != nil {
		return fmt.Errorf("could not run processor: %w", err)
	}
	return nil
}

func (p *Processor) Shutdown() {
	if p.srv != nil {
		p.srv.Shutdown()
	}
}

// HandleGenerateProject 核心处理逻辑：执行一次生成流程
func (p *Processor) HandleGenerateProject(ctx context.Context, t *asynq.Task) error {
	var payload GeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if payload.ProjectID == "" {
		return fmt.Errorf("empty project id: %w", asynq.SkipRetry)
	}

	log.Printf("[Queue] Processing generation: project=%s", payload.ProjectID)
	if err := p.orchestrator.RunGeneration(ctx, payload.ProjectID); err != nil {
		// 业务失败已写入项目状态，不再重试
		return fmt.Errorf("generation %s: %v: %w", payload.ProjectID, err, asynq.SkipRetry)
	}
	return nil
}
