// notifier consumes booking events from Kafka and fans them into per-user
// Redis inboxes so clients that were offline when an event fired can still
// fetch it later.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ridepool/internal/notify"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_messages_consumed_total",
		Help: "Total booking events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_messages_invalid_total",
		Help: "Total invalid events received",
	})
	inboxWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_inbox_writes_total",
		Help: "Total successful inbox writes",
	})
	inboxErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_inbox_errors_total",
		Help: "Total inbox write errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, inboxWrites, inboxErrors)
}

// each inbox keeps the most recent events only
const inboxDepth = 100

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokersEnv := os.Getenv("KAFKA_BROKERS")
	brokers := []string{}
	if brokersEnv != "" {
		for _, b := range strings.Split(brokersEnv, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	} else {
		brokers = []string{"localhost:9092"}
	}

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "booking-events"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "booking-notifier"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rc := redis.NewClient(&redis.Options{Addr: redisAddr, Password: os.Getenv("REDIS_PASSWORD")})
	inbox := &redisInbox{c: rc}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Printf("notifier listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down notifier")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var ev notify.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			msgsInvalid.Inc()
			log.Printf("invalid event: %v", err)
			continue
		}

		if err := deliverWithRetry(ctx, inbox, ev, m.Value, 3, 200*time.Millisecond); err != nil {
			inboxErrors.Inc()
			log.Printf("inbox write failed booking=%s: %v", ev.BookingID, err)
			continue
		}
		inboxWrites.Inc()
	}
}

// InboxWriter is the small subset of redis we need, narrowed for tests.
type InboxWriter interface {
	Push(ctx context.Context, key string, payload []byte) error
	Trim(ctx context.Context, key string, depth int64) error
}

type redisInbox struct{ c *redis.Client }

func (r *redisInbox) Push(ctx context.Context, key string, payload []byte) error {
	return r.c.LPush(ctx, key, payload).Err()
}

func (r *redisInbox) Trim(ctx context.Context, key string, depth int64) error {
	return r.c.LTrim(ctx, key, 0, depth-1).Err()
}

// deliverWithRetry writes the raw event into every recipient's inbox list,
// retrying each write with doubling delay.
func deliverWithRetry(ctx context.Context, w InboxWriter, ev notify.Event, payload []byte, attempts int, delay time.Duration) error {
	for _, userID := range ev.Recipients {
		key := "notify:user:" + userID
		d := delay
		var lastErr error
		for i := 0; i < attempts; i++ {
			if err := w.Push(ctx, key, payload); err != nil {
				lastErr = err
				time.Sleep(d)
				d *= 2
				continue
			}
			_ = w.Trim(ctx, key, inboxDepth)
			lastErr = nil
			break
		}
		if lastErr != nil {
			return lastErr
		}
	}
	return nil
}
