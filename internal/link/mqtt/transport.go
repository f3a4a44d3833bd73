// Package mqtt reaches the peer through a broker: commands are published on
// <prefix>/<peer>/rx and the peer's notifications arrive on <prefix>/<peer>/tx.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"

	"visiontrigger/internal/link"
	"visiontrigger/internal/logger"
)

// Config is the broker connection
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// Transport implements link.Transport over MQTT
type Transport struct {
	cfg       Config
	newClient func(*paho.ClientOptions) paho.Client
}

// New creates an MQTT transport
func New(cfg Config) *Transport {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "visiontrigger"
	}
	return &Transport{cfg: cfg, newClient: paho.NewClient}
}

func (t *Transport) Name() string { return "mqtt" }

// CommandTopic is where commands for peer are published
func (t *Transport) CommandTopic(peer string) string {
	return fmt.Sprintf("%s/%s/rx", t.cfg.TopicPrefix, topicSafe(peer))
}

// NotifyTopic is where peer publishes its notifications
func (t *Transport) NotifyTopic(peer string) string {
	return fmt.Sprintf("%s/%s/tx", t.cfg.TopicPrefix, topicSafe(peer))
}

func topicSafe(peer string) string {
	return strings.NewReplacer(":", "", "/", "_", "+", "_", "#", "_").Replace(strings.ToLower(peer))
}

// Connect opens a broker session and subscribes to the peer's notify topic.
// Reconnects are left to the link manager, so paho's own are disabled.
func (t *Transport) Connect(ctx context.Context, peer string, notify link.NotifyFunc) (link.Session, error) {
	sess := &session{
		DropSignal: link.NewDropSignal(),
		topic:      t.CommandTopic(peer),
		qos:        t.cfg.QoS,
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(t.cfg.Broker)
	opts.SetClientID(t.cfg.ClientID)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	opts.OnConnectionLost = func(c paho.Client, err error) {
		logger.Warn("MQTT", "Connection to %s lost: %v", t.cfg.Broker, err)
		sess.Drop(err)
	}

	client := t.newClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("broker %s: %w", t.cfg.Broker, err)
	}
	sess.client = client

	notifyTopic := t.NotifyTopic(peer)
	token := client.Subscribe(notifyTopic, t.cfg.QoS, func(_ paho.Client, msg paho.Message) {
		notify(msg.Payload())
	})
	if err := wait(ctx, token); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("subscribe %s: %w", notifyTopic, err)
	}

	logger.Info("MQTT", "Session up: commands -> %s, notifications <- %s", sess.topic, notifyTopic)
	return sess, nil
}

type session struct {
	*link.DropSignal
	client paho.Client
	topic  string
	qos    byte
}

func (s *session) Write(ctx context.Context, payload []byte) error {
	if s.Dropped() {
		return link.ErrNotConnected
	}
	return wait(ctx, s.client.Publish(s.topic, s.qos, false, payload))
}

func (s *session) Close() error {
	s.Drop(nil)
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}

func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return errors.Join(errors.New("mqtt operation timed out"), ctx.Err())
	}
}
