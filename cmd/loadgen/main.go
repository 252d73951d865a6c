// Command loadgen smoke-tests a local stack: it pings Redis, produces
// synthetic cache events and reads the result back from the manager API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/invalidation"
	mylog "github.com/mohammed-shakir/wmts-cache-manager/internal/logger"
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
	n, err := client.SCard(ctx, "cachemngr:collections").Result()
	if err != nil {
		return fmt.Errorf("redis scard: %w", err)
	}
	fmt.Println("collections in redis:", n)
	return nil
}

func events(project string, layers, tiles int, remove bool) []invalidation.Event {
	now := time.Now().UTC()
	var out []invalidation.Event
	for i := range layers {
		out = append(out, invalidation.Event{
			Version: 1,
			ID:      mylog.NewID(),
			Op:      invalidation.OpTileCached,
			Project: project,
			Layer:   fmt.Sprintf("layer_%02d", i),
			Tiles:   int64(tiles),
			TS:      now,
		})
	}
	out = append(out, invalidation.Event{
		Version: 1, ID: mylog.NewID(), Op: invalidation.OpDocumentCached,
		Project: project, Document: "SERVICE=WMTS&REQUEST=GetCapabilities", TS: now,
	})
	if remove {
		out = append(out, invalidation.Event{
			Version: 1, ID: mylog.NewID(), Op: invalidation.OpRemoveLayer,
			Project: project, Layer: "layer_00", TS: now,
		})
	}
	return out
}

func produce(brokers []string, topic string, evs []invalidation.Event) error {
	fmt.Println("Kafka test")

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.V2_5_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	for _, ev := range evs {
		b, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		// keyed by project so one project's events stay ordered
		if _, _, err := prod.SendMessage(&sarama.ProducerMessage{
			Topic: topic,
			Key:   sarama.StringEncoder(ev.Project),
			Value: sarama.ByteEncoder(b),
		}); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	fmt.Printf("produced %d events\n", len(evs))
	return nil
}

func readBack(baseURL string) error {
	fmt.Println("API test")
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/collections")
	if err != nil {
		return fmt.Errorf("http get collections: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collections status %d: %s", resp.StatusCode, string(body))
	}
	fmt.Println("collections:")
	fmt.Println(string(body))
	return nil
}

func main() {
	project := flag.String("project", "/srv/qgis/loadgen.qgs", "project name to fill")
	layers := flag.Int("layers", 3, "number of layers")
	tiles := flag.Int("tiles", 100, "tiles reported per layer")
	remove := flag.Bool("remove", true, "also send a remove_layer event")
	wait := flag.Duration("wait", 2*time.Second, "pause before reading back")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	api := getenv("CACHEMNGR_URL", "http://localhost:8090")
	brokers := strings.Split(getenv("KAFKA_BROKERS", "localhost:9092"), ",")
	topic := getenv("KAFKA_TOPIC", "wmts-cache-events")

	if err := testRedis(ctx, redisAddr); err != nil {
		fmt.Println("Redis error:", err)
		os.Exit(1)
	}
	if err := produce(brokers, topic, events(*project, *layers, *tiles, *remove)); err != nil {
		fmt.Println("Kafka error:", err)
		os.Exit(1)
	}
	time.Sleep(*wait)
	if err := readBack(api); err != nil {
		fmt.Println("API error:", err)
		os.Exit(1)
	}
	fmt.Println("All tests completed")
}
