package ingest

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// MQTTSource subscribes to a broker topic. Reconnects are left to the
// Ingestor, so the paho client never retries on its own.
type MQTTSource struct {
	BrokerURL string
	Topic     string
	ClientID  string
	QoS       byte
	Username  string
	Password  string
}

func (s *MQTTSource) Name() string { return "mqtt" }

func (s *MQTTSource) Consume(ctx context.Context, handle func([]byte)) error {
	lost := make(chan error, 1)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.BrokerURL)
	clientID := s.ClientID
	if clientID == "" {
		clientID = "delay-ingest-" + time.Now().Format("20060102150405")
	}
	opts.SetClientID(clientID)
	if s.Username != "" {
		opts.SetUsername(s.Username)
		opts.SetPassword(s.Password)
	}
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, message mqtt.Message) {
		handle(message.Payload())
	})
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		select {
		case lost <- err:
		default:
		}
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", s.BrokerURL, err)
	}
	defer client.Disconnect(250)

	sub := client.Subscribe(s.Topic, s.QoS, nil)
	sub.Wait()
	if err := sub.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", s.Topic, err)
	}
	logrus.WithFields(logrus.Fields{"broker": s.BrokerURL, "topic": s.Topic}).Info("mqtt subscribed")

	select {
	case <-ctx.Done():
		return nil
	case err := <-lost:
		return fmt.Errorf("mqtt connection lost: %w", err)
	}
}
