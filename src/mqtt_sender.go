package main

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTMessage represents an outgoing MQTT message
type MQTTMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MQTTSender wraps a channel for sending MQTT messages with helper methods
type MQTTSender struct {
	ch chan<- MQTTMessage
}

// NewMQTTSender creates a new MQTTSender wrapping the given channel
func NewMQTTSender(ch chan<- MQTTMessage) *MQTTSender {
	return &MQTTSender{ch: ch}
}

// Send sends a raw MQTTMessage
func (s *MQTTSender) Send(msg MQTTMessage) {
	s.ch <- msg
}

// sensorName extracts the sensor name from a topic path, the segment before the last one
// e.g. "homeassistant/sensor/solar_1_power/state" -> "solar_1_power"
func sensorName(topic string) string {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	name := parts[len(parts)-1]
	if len(parts) >= 2 {
		name = parts[len(parts)-2]
	}
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// windowLabel formats a window for topics and headers, e.g. 5m0s -> 5m
func windowLabel(w time.Duration) string {
	label := w.String()
	if strings.HasSuffix(label, "m0s") {
		label = strings.TrimSuffix(label, "0s")
	}
	if strings.HasSuffix(label, "h0m") {
		label = strings.TrimSuffix(label, "0m")
	}
	return label
}

// modeStateTopic is where the mode of topic over window is published
func modeStateTopic(prefix, topic string, w time.Duration) string {
	return prefix + "/" + sensorName(topic) + "/" + windowLabel(w) + "/mode"
}

// CreateModeSensor creates a Home Assistant sensor for a windowed mode via MQTT discovery
func (s *MQTTSender) CreateModeSensor(prefix, topic string, w time.Duration) error {
	type haDeviceConfig struct {
		Identifiers  []string `json:"identifiers"`
		Name         string   `json:"name"`
		Manufacturer string   `json:"manufacturer,omitempty"`
	}

	type haEntityConfig struct {
		Name        string         `json:"name"`
		StateTopic  string         `json:"state_topic"`
		UniqueId    string         `json:"unique_id"`
		Icon        string         `json:"icon,omitempty"`
		ExpireAfter uint           `json:"expire_after,omitempty"`
		Device      haDeviceConfig `json:"device"`
	}

	name := sensorName(topic)
	label := windowLabel(w)
	uniqueId := prefix + "_" + name + "_" + label

	config := haEntityConfig{
		Name:        name + " mode " + label,
		StateTopic:  modeStateTopic(prefix, topic, w),
		UniqueId:    uniqueId,
		Icon:        "mdi:chart-bar",
		ExpireAfter: uint(max(w, 30*time.Minute).Seconds()),
		Device: haDeviceConfig{
			Identifiers:  []string{prefix},
			Name:         "Modewatch",
			Manufacturer: "Custom",
		},
	}

	payload, err := json.Marshal(config)
	if err != nil {
		return err
	}

	s.Send(MQTTMessage{
		Topic:   "homeassistant/sensor/" + uniqueId + "/config",
		Payload: payload,
		QoS:     2,
		Retain:  true,
	})

	return nil
}

// PublishMode publishes the mode of topic over window
func (s *MQTTSender) PublishMode(prefix, topic string, w time.Duration, value string) {
	s.Send(MQTTMessage{
		Topic:   modeStateTopic(prefix, topic, w),
		Payload: []byte(value),
		QoS:     1,
		Retain:  false,
	})
}

// mqttSenderWorker handles outgoing MQTT messages, queuing them until a client connects
func mqttSenderWorker(
	ctx context.Context,
	outgoingChan <-chan MQTTMessage,
	clientChan <-chan mqtt.Client,
) {
	log.Println("MQTT sender worker started")

	var client mqtt.Client
	var messageQueue []MQTTMessage

	for {
		select {
		case newClient := <-clientChan:
			log.Println("MQTT sender worker received new client")
			client = newClient

			if client != nil && client.IsConnected() {
				queuedCount := len(messageQueue)
				for _, msg := range messageQueue {
					token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
					token.Wait()
					if token.Error() != nil {
						log.Printf("Failed to publish queued message to %s: %v\n", msg.Topic, token.Error())
					}
				}
				messageQueue = nil
				if queuedCount > 0 {
					log.Printf("MQTT sender worker processed %d queued messages\n", queuedCount)
				}
			}

		case msg := <-outgoingChan:
			if client != nil && client.IsConnected() {
				token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
				token.Wait()
				if token.Error() != nil {
					log.Printf("Failed to publish to %s: %v\n", msg.Topic, token.Error())
				}
			} else {
				messageQueue = append(messageQueue, msg)
				log.Printf("MQTT sender worker queued message (total queued: %d)\n", len(messageQueue))
			}

		case <-ctx.Done():
			log.Println("MQTT sender worker stopped")
			return
		}
	}
}
