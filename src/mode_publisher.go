package main

import (
	"context"
	"log"
	"sort"
	"time"
)

// republishInterval keeps HA sensors alive while a mode stays unchanged.
// Must stay well below the discovery expire_after (at least 30 minutes).
const republishInterval = 5 * time.Minute

// publishedMode is the last value sent to a mode state topic
type publishedMode struct {
	value string
	at    time.Time
}

// modePublisher publishes windowed modes to MQTT when they change or go stale
func modePublisher(
	ctx context.Context,
	dataChan <-chan DisplayData,
	prefix string,
	windows []time.Duration,
	sender *MQTTSender,
) {
	log.Println("Mode publisher started")

	published := make(map[string]publishedMode)

	for {
		select {
		case data := <-dataChan:
			publishModes(data, prefix, windows, published, sender, time.Now())

		case <-ctx.Done():
			log.Println("Mode publisher stopped")
			return
		}
	}
}

// publishModes sends every mode that differs from the last published value,
// or that was last sent republishInterval or more before now.
// Empty windows are skipped so the HA sensor expires once the topic goes quiet.
func publishModes(
	data DisplayData,
	prefix string,
	windows []time.Duration,
	published map[string]publishedMode,
	sender *MQTTSender,
	now time.Time,
) int {
	topics := make([]string, 0, len(data.TopicData))
	for topic := range data.TopicData {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	sent := 0
	for _, topic := range topics {
		for _, w := range windows {
			value, ok := data.GetMode(topic, w)
			if !ok {
				continue
			}
			key := modeStateTopic(prefix, topic, w)
			prev, seen := published[key]
			if seen && prev.value == value && now.Sub(prev.at) < republishInterval {
				continue
			}
			sender.PublishMode(prefix, topic, w, value)
			published[key] = publishedMode{value: value, at: now}
			sent++
		}
	}
	return sent
}
