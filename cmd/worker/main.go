package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/song-pt/TongAI/internal/config"
	"github.com/song-pt/TongAI/internal/db"
	"github.com/song-pt/TongAI/internal/store"
	"github.com/song-pt/TongAI/internal/store/rabbitmq"
	"github.com/song-pt/TongAI/internal/usage"
)

func workerConcurrency(n int) int {
	if n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	repo := store.NewRepo(gdb)
	applier := usage.NewApplier(repo, nil)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareQueues(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	//  strict concurrency control
	concurrency := workerConcurrency(cfg.WorkerConcurrency)

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("usage worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	// worker pool
	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				handleDelivery(ctx, applier, workerID, d)
			}
		}(i)
	}

	err = pump(ctx, msgs, deliveries)
	close(deliveries)
	wg.Wait()
	if err != nil {
		// let the supervisor restart us against a fresh connection
		log.Fatalf("worker stopping: %v (broker: %v)", err, closeReason(connClosed))
	}
	log.Printf("worker shutting down")
}

var errDeliveriesClosed = errors.New("delivery channel closed")

// pump forwards deliveries to the pool until ctx ends (nil) or the broker closes the channel.
func pump(ctx context.Context, msgs <-chan amqp.Delivery, out chan<- amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errDeliveriesClosed
			}
			select {
			case out <- d:
			case <-ctx.Done():
				// unacked, the broker redelivers it
				return nil
			}
		}
	}
}

func closeReason(ch <-chan *amqp.Error) error {
	select {
	case e, ok := <-ch:
		if ok && e != nil {
			return e
		}
	default:
	}
	return errors.New("no close reason")
}

// handleDelivery applies one task. Usage is at most once, so failures go to the DLQ and are never requeued.
func handleDelivery(ctx context.Context, applier *usage.Applier, workerID int, d amqp.Delivery) {
	t, err := rabbitmq.DecodeTask(d.Body)
	if err != nil {
		log.Printf("worker=%d bad message: %v", workerID, err)
		_ = d.Nack(false, false)
		return
	}

	// finish in-flight writes even while shutting down
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	start := time.Now()
	if err := applier.Apply(actx, t); err != nil {
		log.Printf("worker=%d kind=%s key=%s failed cost=%s err=%v", workerID, t.Kind, t.KeyCode, time.Since(start), err)
		_ = d.Nack(false, false)
		return
	}

	if err := d.Ack(false); err != nil {
		log.Printf("worker=%d ack failed kind=%s key=%s err=%v", workerID, t.Kind, t.KeyCode, err)
	}
	if cost := time.Since(start); cost > 2*time.Second {
		log.Printf("usage_timing kind=%s key=%s device=%s cost=%s", t.Kind, t.KeyCode, t.DeviceID, cost)
	}
}
