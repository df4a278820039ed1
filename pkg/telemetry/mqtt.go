package telemetry

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dougsko/fpvlinkd/pkg/logging"
)

// MQTTConfig selects the broker and topic carrying vehicle radio stats
type MQTTConfig struct {
	Broker   string
	Topic    string
	Username string
	Password string
	QoS      byte
}

// MQTTSource subscribes to vehicle radio stats and feeds them into a Feed
type MQTTSource struct {
	config MQTTConfig
	feed   *Feed
	client mqtt.Client
}

func generateClientID() string {
	b := make([]byte, 6)
	rand.Read(b)
	return "fpvlinkd_" + hex.EncodeToString(b)
}

// NewMQTTSource connects to the broker. The subscription is (re)established
// on every connect.
func NewMQTTSource(config MQTTConfig, feed *Feed) (*MQTTSource, error) {
	src := &MQTTSource{config: config, feed: feed}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(generateClientID())
	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logging.Info("telemetry", fmt.Sprintf("Connected to broker %s", config.Broker))
		token := client.Subscribe(config.Topic, config.QoS, src.handleMessage)
		if token.Wait() && token.Error() != nil {
			logging.Error("telemetry", fmt.Sprintf("Subscribe to %s failed: %v", config.Topic, token.Error()))
		}
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logging.Warn("telemetry", fmt.Sprintf("Connection lost: %v", err))
	})

	src.client = mqtt.NewClient(opts)
	if token := src.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return src, nil
}

func (s *MQTTSource) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	stats, err := DecodeStats(msg.Payload())
	if err != nil {
		logging.Warn("telemetry", fmt.Sprintf("Dropping report on %s: %v", msg.Topic(), err))
		return
	}
	s.feed.Update(stats)
}

// DecodeStats parses a JSON vehicle report
func DecodeStats(payload []byte) (VehicleStats, error) {
	var stats VehicleStats
	if err := json.Unmarshal(payload, &stats); err != nil {
		return VehicleStats{}, fmt.Errorf("invalid vehicle stats: %w", err)
	}
	for id, raw := range stats.InterfaceRawPower {
		if raw < 0 {
			return VehicleStats{}, fmt.Errorf("negative raw power %d for %s", raw, id)
		}
	}
	// receive time is local
	stats.ReceivedAt = time.Time{}
	stats.Stale = false
	return stats, nil
}

// Close disconnects from the broker
func (s *MQTTSource) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Unsubscribe(s.config.Topic).Wait()
		s.client.Disconnect(250)
	}
}
