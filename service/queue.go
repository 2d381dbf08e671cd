package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeGenerateProject = "project:generate"
	QueueGenerate       = "generate"
)

type GeneratePayload struct {
	ProjectID string `json:"project_id"`
}

// QueueDispatcher 将生成任务投递到 asynq（Redis）队列，由 Processor 消费
type QueueDispatcher struct {
	client  *asynq.Client
	Timeout time.Duration
}

func NewQueueDispatcher(client *asynq.Client) *QueueDispatcher {
	return &QueueDispatcher{client: client, Timeout: time.Hour}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, projectID string) error {
	payload, err := json.Marshal(GeneratePayload{ProjectID: projectID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(TypeGenerateProject, payload,
		asynq.Queue(QueueGenerate),
		asynq.MaxRetry(0),             // 失败后由用户重新发起，不自动重试
		asynq.Timeout(d.Timeout),      // LLM + TTS 逐个场景执行，设置较长超时
		asynq.Retention(24*time.Hour), // 任务结果在 Redis 保留时间
	)

	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	log.Printf("[Queue] Generation enqueued: project=%s task=%s", projectID, info.ID)
	return nil
}

// InlineDispatcher runs generation in a goroutine of the API process. Used
// when no Redis is configured and in tests.
type InlineDispatcher struct {
	run func(ctx context.Context, projectID string) error
	wg  sync.WaitGroup
}

func NewInlineDispatcher(run func(ctx context.Context, projectID string) error) *InlineDispatcher {
	return &InlineDispatcher{run: run}
}

func (d *InlineDispatcher) Dispatch(_ context.Context, projectID string) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.run(context.Background(), projectID); err != nil {
			log.Printf("[Queue] inline generation %s: %v", projectID, err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched run has returned.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
