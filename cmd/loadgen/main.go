// Command loadgen smoke-tests a running climate server and its backing
// services: redis round-trip, a /climate request, and an invalidation
// event produced and consumed through kafka.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"
)

func getenv(key, def string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return def
}

func testRedis(ctx context.Context, addr string) error {
	fmt.Println("Redis test")
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
	})
	defer func() { _ = client.Close() }()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	if err := client.Set(ctx, "hello", "world", 30*time.Second).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	val, err := client.Get(ctx, "hello").Result()
	if err != nil {
		return fmt.Errorf("redis get: %w", err)
	}
	fmt.Println("redis GET hello: ", val)
	return nil
}

func testClimate(baseURL string) error {
	fmt.Println("Climate endpoint test")

	reqURL := fmt.Sprintf("%s/climate?lat=29.7604&lon=-95.3698&start=2025-06-01&end=2025-06-07",
		strings.TrimRight(baseURL, "/"))
	u, err := url.Parse(reqURL)
	if err != nil {
		return fmt.Errorf("bad climate URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	for i := range 2 {
		start := time.Now()
		resp, err := http.Get(u.String())
		if err != nil {
			return fmt.Errorf("http get climate: %w", err)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("climate status %d: %s", resp.StatusCode, string(body))
		}

		var out struct {
			Source  string `json:"source"`
			Dataset struct {
				Records []json.RawMessage `json:"records"`
			} `json:"dataset"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return fmt.Errorf("decode climate response: %w", err)
		}
		fmt.Printf("request %d: source=%s records=%d latency=%s\n",
			i+1, out.Source, len(out.Dataset.Records), time.Since(start).Round(time.Millisecond))
	}
	return nil
}

func testKafka(brokers []string, topic string) error {
	fmt.Println("Kafka test")

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.V2_5_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	payload := map[string]any{
		"lat":     29.7604,
		"lon":     -95.3698,
		"start":   "2025-06-01",
		"end":     "2025-06-07",
		"version": uint64(time.Now().UnixNano()),
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"op":      "update",
	}

	msgBytes, _ := json.Marshal(payload)
	_, _, err = prod.SendMessage(&sarama.ProducerMessage{
		Topic: topic, Value: sarama.ByteEncoder(msgBytes),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	fmt.Println("produced one invalidation event")

	consumer, err := sarama.NewConsumer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("consumer create: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	pc, err := consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
	if err != nil {
		pc, err = consumer.ConsumePartition(topic, 0, sarama.OffsetOldest)
		if err != nil {
			return fmt.Errorf("consume partition: %w", err)
		}
	}
	defer func() { _ = pc.Close() }()

	select {
	case m := <-pc.Messages():
		fmt.Println("consumed:", string(m.Value))
	case <-time.After(5 * time.Second):
		fmt.Println("no message consumed (timeout)")
	}

	return nil
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	serverURL := getenv("SERVER_URL", "http://localhost:8090")
	brokers := strings.Split(getenv("KAFKA_BROKERS", "localhost:9092"), ",")
	topic := getenv("KAFKA_TOPIC", "climate-invalidation")

	if err := testRedis(ctx, redisAddr); err != nil {
		fmt.Println("Redis error:", err)
		return
	}
	if err := testClimate(serverURL); err != nil {
		fmt.Println("Climate error:", err)
		return
	}
	if err := testKafka(brokers, topic); err != nil {
		fmt.Println("Kafka error:", err)
		return
	}
	fmt.Println("All tests completed")
}
