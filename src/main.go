package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"
)

// SensorMessage represents an MQTT message with topic and value
type SensorMessage struct {
	Topic string
	Value string
}

// DisplayData holds all data needed for display
type DisplayData struct {
	TopicData map[string]any
}

// GetFloat extracts FloatTopicData from DisplayData
// Returns a zero-valued FloatTopicData if topic doesn't exist or isn't a float topic
func (d *DisplayData) GetFloat(topic string) *FloatTopicData {
	if td, ok := d.TopicData[topic].(*FloatTopicData); ok {
		return td
	}
	return &FloatTopicData{}
}

// GetString extracts a string value from DisplayData
func (d *DisplayData) GetString(topic string) string {
	if td, ok := d.TopicData[topic].(*StringTopicData); ok {
		return td.Current
	}
	return ""
}

// GetMode returns the formatted mode of topic over window, false if unknown or empty
func (d *DisplayData) GetMode(topic string, window time.Duration) (string, bool) {
	switch td := d.TopicData[topic].(type) {
	case *FloatTopicData:
		if m := td.Mode[window]; m.OK {
			return formatValue(m.Value), true
		}
	case *StringTopicData:
		if m := td.Mode[window]; m.OK {
			return m.Value, true
		}
	}
	return "", false
}

// GetCurrent returns the formatted latest value of topic, false if never seen
func (d *DisplayData) GetCurrent(topic string) (string, bool) {
	switch td := d.TopicData[topic].(type) {
	case *FloatTopicData:
		return formatValue(td.Current), true
	case *StringTopicData:
		return td.Current, true
	}
	return "", false
}

// SafeGo launches a goroutine with panic recovery and retry logic.
// On panic, retries with exponential backoff (max 10 retries).
// Retry count resets if worker ran for 2+ minutes before failing.
// After exhausting retries, cancels context to trigger shutdown.
func SafeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	fn func(ctx context.Context),
) {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	go func() {
		retries := 0
		delay := time.Second

		for {
			startTime := time.Now()
			var panicValue any

			func() {
				defer func() {
					panicValue = recover()
				}()
				fn(ctx)
			}()

			// Returned normally, covers both context cancellation and unexpected completion
			if panicValue == nil {
				return
			}

			if time.Since(startTime) >= resetAfter {
				retries = 0
				delay = time.Second
			}

			retries++
			log.Printf("Panic in %s (attempt %d/%d): %v\n", name, retries, maxRetries, panicValue)

			if retries >= maxRetries {
				log.Printf("%s failed after %d retries, shutting down\n", name, maxRetries)
				cancel()
				return
			}

			log.Printf("%s will retry in %v\n", name, delay)
			select {
			case <-time.After(delay):
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func main() {
	log.Println("Starting modewatch...")

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v\n", err)
	}

	cfg, err := LoadConfig(os.Getenv)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Printf("Tracking %d topics over windows %v\n", len(cfg.Topics), cfg.Windows)

	// Create context for lifecycle management
	ctx, cancel := context.WithCancel(context.Background())

	// Create channels for communication between workers
	msgChan := make(chan SensorMessage, 10)
	statsChan := make(chan DisplayData, 10)
	mqttOutgoingChan := make(chan MQTTMessage, 100) // Larger buffer for queuing
	mqttClientChan := make(chan mqtt.Client, 1)     // Buffered to prevent blocking onConnect

	SafeGo(ctx, cancel, "mqtt-sender-worker", func(ctx context.Context) {
		mqttSenderWorker(ctx, mqttOutgoingChan, mqttClientChan)
	})

	mqttSender := NewMQTTSender(mqttOutgoingChan)

	log.Println("Creating Home Assistant entities...")
	for _, topic := range cfg.Topics {
		for _, w := range cfg.Windows {
			if err := mqttSender.CreateModeSensor(cfg.Prefix, topic, w); err != nil {
				cancel()
				log.Fatalf("Failed to create mode sensor for %s: %v", topic, err)
			}
		}
	}
	log.Println("Home Assistant entities created")

	SafeGo(ctx, cancel, "mode-worker", func(ctx context.Context) {
		modeWorker(ctx, msgChan, statsChan, cfg.Windows, cfg.Retention)
	})
	log.Println("Mode worker started")

	var downstreams []Downstream //nolint:prealloc // small slice

	publisherChan := make(chan DisplayData, 10)
	downstreams = append(downstreams, Downstream{Name: "mode-publisher", Ch: publisherChan})
	SafeGo(ctx, cancel, "mode-publisher", func(ctx context.Context) {
		modePublisher(ctx, publisherChan, cfg.Prefix, cfg.Windows, mqttSender)
	})

	if cfg.Debug {
		debugChan := make(chan DisplayData, 10)
		downstreams = append(downstreams, Downstream{Name: "debug-worker", Ch: debugChan})
		SafeGo(ctx, cancel, "debug-worker", func(ctx context.Context) {
			debugWorker(ctx, cancel, debugChan, cfg.Windows)
		})
	}

	// Launch broadcast worker (fans out to all downstream workers)
	SafeGo(ctx, cancel, "broadcast-worker", func(ctx context.Context) {
		broadcastWorker(ctx, statsChan, downstreams)
	})
	log.Println("Broadcast worker started")

	SafeGo(ctx, cancel, "mqtt-worker", func(ctx context.Context) {
		mqttWorker(ctx, cfg, msgChan, mqttClientChan)
	})
	log.Println("MQTT worker started")

	// Wait for interrupt signal or context cancellation (from panic)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("\nShutting down...")
	case <-ctx.Done():
		log.Println("\nShutting down due to error...")
	}
	cancel()
}
