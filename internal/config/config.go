package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	LogColor  bool            `yaml:"log_color"`
	Camera    CameraConfig    `yaml:"camera"`
	Detector  DetectorConfig  `yaml:"detector"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	Actuation ActuationConfig `yaml:"actuation"`
	Link      LinkConfig      `yaml:"link"`
	Loop      LoopConfig      `yaml:"loop"`
	HTTP      HTTPConfig      `yaml:"http"`
	GRPC      GRPCConfig      `yaml:"grpc"`
}

// CameraConfig describes where frames come from
type CameraConfig struct {
	Device       string        `yaml:"device"` // /dev/video0, rtsp://..., http://.../snapshot.jpg
	FPS          int           `yaml:"fps"`
	Width        int           `yaml:"width"`
	Height       int           `yaml:"height"`
	FrameTimeout time.Duration `yaml:"frame_timeout"` // max wait for a frame before a capture error
}

// DetectorConfig points at the inference service
type DetectorConfig struct {
	Endpoint       string        `yaml:"endpoint"`        // gRPC host:port
	Model          string        `yaml:"model"`           // model path understood by the service
	Labels         string        `yaml:"labels"`          // label file, one class per line
	ScoreThreshold float32       `yaml:"score_threshold"` // detections below this are discarded
	Timeout        time.Duration `yaml:"timeout"`
}

// TriggerConfig is the debounce policy
type TriggerConfig struct {
	TargetLabel string        `yaml:"target_label"`
	Threshold   float32       `yaml:"threshold"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// ActuationConfig is what a fire does
type ActuationConfig struct {
	Command string        `yaml:"command"`
	Hold    time.Duration `yaml:"hold"` // how long a fired task keeps the guard after sending
}

// LinkConfig is the wireless session
type LinkConfig struct {
	Transport      string        `yaml:"transport"` // ble | mqtt
	Peer           string        `yaml:"peer"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	Backoff        BackoffConfig `yaml:"backoff"`
	NotifyQueue    int           `yaml:"notify_queue"`
	BLE            BLEConfig     `yaml:"ble"`
	MQTT           MQTTConfig    `yaml:"mqtt"`
}

// BackoffConfig controls reconnect delays. Multiplier <= 1 means fixed delay.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
}

// BLEConfig selects the GATT service and characteristics
type BLEConfig struct {
	ServiceUUID string `yaml:"service_uuid"`
	RXUUID      string `yaml:"rx_uuid"` // peer receives commands here
	TXUUID      string `yaml:"tx_uuid"` // peer notifies here
}

// MQTTConfig is used when the peer is reached through a broker
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// LoopConfig is the control loop pacing
type LoopConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// HTTPConfig is the status/metrics/websocket listener
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// GRPCConfig is the gRPC health listener; empty disables it
type GRPCConfig struct {
	HealthAddr string `yaml:"health_addr"`
}

// Default returns a configuration that works against a Pico W peripheral
// running the Nordic UART peripheral and a local inference service.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Camera: CameraConfig{
			Device:       "/dev/video0",
			FPS:          30,
			Width:        1280,
			Height:       720,
			FrameTimeout: 5 * time.Second,
		},
		Detector: DetectorConfig{
			Endpoint:       "localhost:50051",
			Model:          "/usr/local/share/hailo-models/yolov8s_h8.hef",
			Labels:         "coco.txt",
			ScoreThreshold: 0.5,
			Timeout:        2 * time.Second,
		},
		Trigger: TriggerConfig{
			TargetLabel: "cup",
			Threshold:   0.5,
			Cooldown:    500 * time.Millisecond,
		},
		Actuation: ActuationConfig{
			Command: "toggle\r\n",
			Hold:    5 * time.Second,
		},
		Link: LinkConfig{
			Transport:      "ble",
			Peer:           "2C:CF:67:98:33:08",
			ConnectTimeout: 10 * time.Second,
			WriteTimeout:   5 * time.Second,
			Backoff: BackoffConfig{
				Initial:    5 * time.Second,
				Max:        5 * time.Second,
				Multiplier: 1,
			},
			NotifyQueue: 32,
			BLE: BLEConfig{
				ServiceUUID: "6E400001-B5A3-F393-E0A9-E50E24DCCA9E",
				RXUUID:      "6E400002-B5A3-F393-E0A9-E50E24DCCA9E",
				TXUUID:      "6E400003-B5A3-F393-E0A9-E50E24DCCA9E",
			},
			MQTT: MQTTConfig{
				Broker:      "tcp://localhost:1883",
				ClientID:    "visiontrigger",
				TopicPrefix: "visiontrigger",
				QoS:         1,
			},
		},
		Loop: LoopConfig{
			Interval: 100 * time.Millisecond,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		GRPC: GRPCConfig{
			HealthAddr: ":50052",
		},
	}
}

// Load reads a YAML file on top of Default() and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
