// Package jobs moves slow side effects (email delivery) onto an asynq queue.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"im-chat/internal/config"
	"im-chat/internal/mailer"
)

// TypeSendEmail is the asynq task type for outbound email.
const TypeSendEmail = "email:send"

// RedisOpt converts the REDIS section into asynq's connection option.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
}

// NewSendEmailTask encodes email as a task payload.
func NewSendEmailTask(email mailer.Email) (*asynq.Task, error) {
	payload, err := json.Marshal(email)
	if err != nil {
		return nil, fmt.Errorf("序列化邮件任务失败: %w", err)
	}
	return asynq.NewTask(TypeSendEmail, payload), nil
}

// QueuedMailer implements mailer.Mailer by enqueuing a task; a Worker
// performs the delivery.
type QueuedMailer struct {
	client   *asynq.Client
	queue    string
	maxRetry int
}

// NewQueuedMailer creates a mailer backed by an asynq client.
func NewQueuedMailer(redisCfg config.RedisConfig, cfg config.JobsConfig) *QueuedMailer {
	return &QueuedMailer{
		client:   asynq.NewClient(RedisOpt(redisCfg)),
		queue:    cfg.Queue,
		maxRetry: cfg.MaxRetry,
	}
}

// Send enqueues the email.
func (q *QueuedMailer) Send(ctx context.Context, email mailer.Email) error {
	task, err := NewSendEmailTask(email)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.Timeout(30 * time.Second)}
	if q.queue != "" {
		opts = append(opts, asynq.Queue(q.queue))
	}
	if q.maxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(q.maxRetry))
	}
	info, err := q.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("邮件任务入队失败: %w", err)
	}
	log.Printf("邮件任务 %s 已入队 (queue=%s, to=%s)", info.ID, info.Queue, email.To)
	return nil
}

// Close releases the asynq client.
func (q *QueuedMailer) Close() error {
	return q.client.Close()
}

// HandleSendEmail returns the task handler delivering through m.
func HandleSendEmail(m mailer.Mailer) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var email mailer.Email
		if err := json.Unmarshal(t.Payload(), &email); err != nil {
			// 载荷损坏，重试无意义
			return fmt.Errorf("解析邮件任务失败: %v: %w", err, asynq.SkipRetry)
		}
		return m.Send(ctx, email)
	}
}

// Worker runs the asynq server consuming email tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker creates a worker delivering through m.
func NewWorker(redisCfg config.RedisConfig, cfg config.JobsConfig, m mailer.Mailer) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "default"
	}
	srv := asynq.NewServer(RedisOpt(redisCfg), asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Printf("错误: 后台任务失败 type=%s: %v", task.Type(), err)
		}),
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSendEmail, HandleSendEmail(m))
	return &Worker{server: srv, mux: mux}
}

// Start begins processing in background goroutines.
func (w *Worker) Start() error {
	return w.server.Start(w.mux)
}

// Shutdown waits for in-flight tasks and stops the worker.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}
