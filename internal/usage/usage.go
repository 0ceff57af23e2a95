package usage

import (
	"context"
	"errors"
	"log"
	"time"
	"unicode/utf8"

	"github.com/song-pt/TongAI/internal/ai"
)

type TaskKind string

const (
	KindTokens TaskKind = "tokens"
	KindImage  TaskKind = "image"
)

// Task is one usage report. Tokens tasks carry KeyCode/DeviceID/Tokens, image tasks ImageKeyCode.
type Task struct {
	Kind         TaskKind  `json:"kind"`
	KeyCode      string    `json:"key_code,omitempty"`
	DeviceID     string    `json:"device_id,omitempty"`
	Tokens       int64     `json:"tokens,omitempty"`
	ImageKeyCode string    `json:"image_key_code,omitempty"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

var (
	ErrQueueFull   = errors.New("usage queue full")
	ErrQueueClosed = errors.New("usage queue closed")
)

// Queue accepts tasks for at-most-once application.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
}

type Observer interface {
	ObserveUsage(kind, outcome string)
}

// EstimateTokens is the fallback when the provider reports no usage: ceil((P+A)/3) over characters.
func EstimateTokens(prompt, answer string) int64 {
	n := int64(utf8.RuneCountInString(prompt) + utf8.RuneCountInString(answer))
	return (n + 2) / 3
}

// TokensFor prefers the provider's usage.total_tokens and falls back to EstimateTokens.
func TokensFor(res *ai.ChatResult, prompt string) int64 {
	if res.HasUsage && res.TotalTokens > 0 {
		return res.TotalTokens
	}
	return EstimateTokens(prompt, res.Content)
}

// Recorder turns usage into queued tasks. Nothing it does can fail the caller:
// enqueue errors are logged and the task is dropped.
type Recorder struct {
	queue    Queue
	observer Observer
}

func NewRecorder(queue Queue, observer Observer) *Recorder {
	return &Recorder{queue: queue, observer: observer}
}

func (r *Recorder) RecordUsage(ctx context.Context, keyCode, deviceID string, tokens int64) {
	if keyCode == "" || tokens <= 0 {
		return
	}
	r.enqueue(ctx, Task{
		Kind:     KindTokens,
		KeyCode:  keyCode,
		DeviceID: deviceID,
		Tokens:   tokens,
	})
}

func (r *Recorder) RecordImageUsage(ctx context.Context, imageKeyCode string) {
	if imageKeyCode == "" {
		return
	}
	r.enqueue(ctx, Task{Kind: KindImage, ImageKeyCode: imageKeyCode})
}

func (r *Recorder) enqueue(ctx context.Context, t Task) {
	t.EnqueuedAt = time.Now()
	// the request may finish before the task is published
	ctx = context.WithoutCancel(ctx)
	if err := r.queue.Enqueue(ctx, t); err != nil {
		log.Printf("usage enqueue dropped kind=%s key=%s device=%s image_key=%s err=%v",
			t.Kind, t.KeyCode, t.DeviceID, t.ImageKeyCode, err)
		r.observe(t.Kind, "dropped")
		return
	}
	r.observe(t.Kind, "enqueued")
}

func (r *Recorder) observe(kind TaskKind, outcome string) {
	if r.observer != nil {
		r.observer.ObserveUsage(string(kind), outcome)
	}
}
