package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/chat-gateway/internal/config"
	"github.com/suPer8Hu/chat-gateway/internal/db"
	"github.com/suPer8Hu/chat-gateway/internal/logger"
	"github.com/suPer8Hu/chat-gateway/internal/store/rabbitmq"
	"github.com/suPer8Hu/chat-gateway/internal/usage"
)

func main() {
	cfg := config.Load()

	log, err := logger.Setup(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	if cfg.RabbitURL == "" || cfg.DBDSN == "" {
		log.Error("worker requires RABBIT_URL and DB_DSN")
		os.Exit(1)
	}

	gdb, err := db.Open(cfg.DBDSN)
	if err != nil {
		log.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := usage.Migrate(gdb); err != nil {
		log.Error("usage migration failed", "error", err)
		os.Exit(1)
	}
	repo := usage.NewRepo(gdb)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Error("rabbit dial", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Error("rabbit channel", "error", err)
		os.Exit(1)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Error("queue declare", "error", err)
		os.Exit(1)
	}

	// strict concurrency control
	concurrency := cfg.WorkerConcurrency

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Error("qos", "error", err)
		os.Exit(1)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Error("consume", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	// worker pool
	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With("worker", workerID)
			for d := range deliveries {
				ev, err := rabbitmq.DecodeUsage(d.Body)
				if err != nil || ev.ID == "" {
					wlog.Warn("bad message", "message_id", d.MessageId, "error", err)
					_ = d.Nack(false, false)
					continue
				}

				// inserts finish even while shutting down
				ictx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				start := time.Now()
				err = repo.RecordUsage(ictx, ev)
				cancel()
				if err != nil {
					wlog.Error("record usage failed", "event", ev.ID, "cost", time.Since(start), "error", err)
					_ = d.Nack(false, false)
					continue
				}
				if cost := time.Since(start); cost > 500*time.Millisecond {
					wlog.Warn("slow usage insert", "event", ev.ID, "cost", cost)
				}

				if err := d.Ack(false); err != nil {
					wlog.Error("ack failed", "event", ev.ID, "error", err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(deliveries)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Error("delivery channel closed")
				close(deliveries)
				wg.Wait()
				os.Exit(1)
			}
			deliveries <- d
		}
	}
}
