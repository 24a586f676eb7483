package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Camera     CameraConfig     `yaml:"camera"`
	Stream     StreamConfig     `yaml:"stream"`
	Detection  DetectionConfig  `yaml:"detection"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	DataStore  DataStoreConfig  `yaml:"datastore"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	WebRTC     WebRTCConfig     `yaml:"webrtc"`
	Rover      RoverConfig      `yaml:"rover"`
}

type ServerConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	APIKey         string   `yaml:"api_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	LogDevelopment bool     `yaml:"log_development"`
}

// CameraConfig selects how the ESP32 module is reached. Direct mode talks to
// ESP32Address; proxy mode goes through ProxyBase.
type CameraConfig struct {
	UseProxy      bool          `yaml:"use_proxy"`
	ESP32Address  string        `yaml:"esp32_address"`
	ProxyBase     string        `yaml:"proxy_base"`
	Transport     string        `yaml:"transport"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	LocalDevice   string        `yaml:"local_device"`
	FFmpegPath    string        `yaml:"ffmpeg_path"`
	ExternalURL   string        `yaml:"external_url"`
	DefaultSource string        `yaml:"default_source"`
}

type StreamConfig struct {
	RetryBase     time.Duration `yaml:"retry_base"`
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`
	MaxRetries    int           `yaml:"max_retries"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

type DetectionConfig struct {
	BaseURL       string        `yaml:"base_url"`
	PredictPath   string        `yaml:"predict_path"`
	HealthPath    string        `yaml:"health_path"`
	Timeout       time.Duration `yaml:"timeout"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	TopK          int           `yaml:"top_k"`
	HistoryWindow time.Duration `yaml:"history_window"`
	HistorySize   int           `yaml:"history_size"`
	Mock          bool          `yaml:"mock"`
}

type ClassifierConfig struct {
	// Models maps a model identifier to the base URL hosting model.json and
	// metadata.json.
	Models     map[string]string `yaml:"models"`
	PredictURL string            `yaml:"predict_url"`
	TopK       int               `yaml:"top_k"`
}

type AnalysisConfig struct {
	ModelRetry     time.Duration `yaml:"model_retry"`
	TransientClear time.Duration `yaml:"transient_clear"`
	PanelClear     time.Duration `yaml:"panel_clear"`
}

// DataStoreConfig holds the Firebase project settings. An empty DatabaseURL
// selects the in-memory store.
type DataStoreConfig struct {
	APIKey        string `yaml:"api_key"`
	DatabaseURL   string `yaml:"database_url"`
	StorageBucket string `yaml:"storage_bucket"`
	Email         string `yaml:"email"`
	Password      string `yaml:"password"`
	SamplesPath   string `yaml:"samples_path"`
	DatasetPath   string `yaml:"dataset_path"`
	ImagePrefix   string `yaml:"image_prefix"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

type WebRTCConfig struct {
	STUNServers []string `yaml:"stun_servers"`
	MaxViewers  int      `yaml:"max_viewers"`
}

type RoverConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ForwardPulse      time.Duration `yaml:"forward_pulse"`
	TurnPulse         time.Duration `yaml:"turn_pulse"`

	// LogBackupPath stores the mission log between restarts. Empty disables it.
	LogBackupPath string `yaml:"log_backup_path"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:     ":8080",
			AllowedOrigins: []string{"*"},
		},
		Camera: CameraConfig{
			ESP32Address:  "192.168.0.102",
			Transport:     "mjpeg",
			PollInterval:  200 * time.Millisecond,
			LocalDevice:   "/dev/video0",
			FFmpegPath:    "ffmpeg",
			DefaultSource: "remote",
		},
		Stream: StreamConfig{
			RetryBase:     time.Second,
			RetryMaxDelay: 30 * time.Second,
			MaxRetries:    5,
			ProbeInterval: 10 * time.Second,
		},
		Detection: DetectionConfig{
			BaseURL:       "http://localhost:5000",
			PredictPath:   "/detect",
			HealthPath:    "/health",
			Timeout:       5 * time.Second,
			PollInterval:  2 * time.Second,
			TopK:          5,
			HistoryWindow: 30 * time.Second,
			HistorySize:   256,
		},
		Classifier: ClassifierConfig{
			Models: map[string]string{
				"rock":   "https://teachablemachine.withgoogle.com/models/tP-Adb8AA/",
				"object": "https://teachablemachine.withgoogle.com/models/Kb6KkdzDs/",
			},
			TopK: 3,
		},
		Analysis: AnalysisConfig{
			ModelRetry:     3 * time.Second,
			TransientClear: 5 * time.Second,
			PanelClear:     50 * time.Second,
		},
		DataStore: DataStoreConfig{
			SamplesPath: "Samples",
			DatasetPath: "Dataset",
			ImagePrefix: "EXPLORATION_SAMPLES",
		},
		MQTT: MQTTConfig{
			ClientID:    "rover-console",
			TopicPrefix: "rover",
			QoS:         1,
		},
		WebRTC: WebRTCConfig{
			STUNServers: []string{"stun:stun.l.google.com:19302"},
			MaxViewers:  8,
		},
		Rover: RoverConfig{
			HeartbeatInterval: 10 * time.Second,
			ForwardPulse:      500 * time.Millisecond,
			TurnPulse:         300 * time.Millisecond,
			LogBackupPath:     "mission_backup.json",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// CONFIG_FILE, and environment variables, in that order of precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.ListenAddr = getEnv("LISTEN_ADDR", c.Server.ListenAddr)
	c.Server.APIKey = getEnv("CONSOLE_API_KEY", c.Server.APIKey)
	c.Server.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", c.Server.AllowedOrigins)
	c.Server.LogDevelopment = getEnvBool("LOG_DEVELOPMENT", c.Server.LogDevelopment)

	c.Camera.UseProxy = getEnvBool("CAMERA_USE_PROXY", c.Camera.UseProxy)
	c.Camera.ESP32Address = getEnv("ESP32_ADDRESS", c.Camera.ESP32Address)
	c.Camera.ProxyBase = getEnv("CAMERA_PROXY_BASE", c.Camera.ProxyBase)
	c.Camera.Transport = getEnv("CAMERA_TRANSPORT", c.Camera.Transport)
	c.Camera.PollInterval = getEnvDuration("CAMERA_POLL_INTERVAL", c.Camera.PollInterval)
	c.Camera.LocalDevice = getEnv("CAMERA_LOCAL_DEVICE", c.Camera.LocalDevice)
	c.Camera.FFmpegPath = getEnv("FFMPEG_PATH", c.Camera.FFmpegPath)
	c.Camera.ExternalURL = getEnv("CAMERA_EXTERNAL_URL", c.Camera.ExternalURL)
	c.Camera.DefaultSource = getEnv("CAMERA_DEFAULT_SOURCE", c.Camera.DefaultSource)

	c.Stream.RetryBase = getEnvDuration("STREAM_RETRY_BASE", c.Stream.RetryBase)
	c.Stream.RetryMaxDelay = getEnvDuration("STREAM_RETRY_MAX_DELAY", c.Stream.RetryMaxDelay)
	c.Stream.MaxRetries = getEnvInt("STREAM_MAX_RETRIES", c.Stream.MaxRetries)
	c.Stream.ProbeInterval = getEnvDuration("STREAM_PROBE_INTERVAL", c.Stream.ProbeInterval)

	c.Detection.BaseURL = getEnv("DETECTION_BASE_URL", c.Detection.BaseURL)
	c.Detection.PredictPath = getEnv("DETECTION_PREDICT_PATH", c.Detection.PredictPath)
	c.Detection.HealthPath = getEnv("DETECTION_HEALTH_PATH", c.Detection.HealthPath)
	c.Detection.Timeout = getEnvDuration("DETECTION_TIMEOUT", c.Detection.Timeout)
	c.Detection.PollInterval = getEnvDuration("DETECTION_POLL_INTERVAL", c.Detection.PollInterval)
	c.Detection.TopK = getEnvInt("DETECTION_TOP_K", c.Detection.TopK)
	c.Detection.Mock = getEnvBool("DETECTION_MOCK", c.Detection.Mock)

	c.Classifier.PredictURL = getEnv("CLASSIFIER_PREDICT_URL", c.Classifier.PredictURL)
	if v := os.Getenv("CLASSIFIER_ROCK_MODEL_URL"); v != "" {
		c.Classifier.Models["rock"] = v
	}
	if v := os.Getenv("CLASSIFIER_OBJECT_MODEL_URL"); v != "" {
		c.Classifier.Models["object"] = v
	}

	c.DataStore.APIKey = getEnv("FIREBASE_API_KEY", c.DataStore.APIKey)
	c.DataStore.DatabaseURL = getEnv("FIREBASE_DATABASE_URL", c.DataStore.DatabaseURL)
	c.DataStore.StorageBucket = getEnv("FIREBASE_STORAGE_BUCKET", c.DataStore.StorageBucket)
	c.DataStore.Email = getEnv("FIREBASE_EMAIL", c.DataStore.Email)
	c.DataStore.Password = getEnv("FIREBASE_PASSWORD", c.DataStore.Password)

	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", c.MQTT.TopicPrefix)

	c.WebRTC.STUNServers = getEnvList("STUN_SERVERS", c.WebRTC.STUNServers)
	c.WebRTC.MaxViewers = getEnvInt("MAX_VIEWERS", c.WebRTC.MaxViewers)

	c.Rover.HeartbeatInterval = getEnvDuration("ROVER_HEARTBEAT_INTERVAL", c.Rover.HeartbeatInterval)
	c.Rover.LogBackupPath = getEnv("ROVER_LOG_BACKUP", c.Rover.LogBackupPath)
}

// Validate rejects settings the console cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Camera.UseProxy && c.Camera.ProxyBase == "" {
		errs = append(errs, errors.New("camera.proxy_base is required when camera.use_proxy is set"))
	}
	if !c.Camera.UseProxy && c.Camera.ESP32Address == "" {
		errs = append(errs, errors.New("camera.esp32_address is required in direct mode"))
	}
	switch c.Camera.Transport {
	case "mjpeg", "poll", "websocket":
	default:
		errs = append(errs, fmt.Errorf("camera.transport %q: want mjpeg, poll or websocket", c.Camera.Transport))
	}
	if c.Stream.RetryBase <= 0 {
		errs = append(errs, errors.New("stream.retry_base must be positive"))
	}
	if c.Stream.RetryMaxDelay < c.Stream.RetryBase {
		errs = append(errs, errors.New("stream.retry_max_delay must be >= stream.retry_base"))
	}
	if c.Stream.MaxRetries < 1 {
		errs = append(errs, errors.New("stream.max_retries must be at least 1"))
	}
	if c.Stream.ProbeInterval <= 0 {
		errs = append(errs, errors.New("stream.probe_interval must be positive"))
	}
	if c.Detection.PollInterval <= 0 {
		errs = append(errs, errors.New("detection.poll_interval must be positive"))
	}
	if c.DataStore.DatabaseURL != "" && c.DataStore.APIKey == "" {
		errs = append(errs, errors.New("datastore.api_key is required with datastore.database_url"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d out of range", c.MQTT.QoS))
	}
	if c.WebRTC.MaxViewers < 0 {
		errs = append(errs, errors.New("webrtc.max_viewers must not be negative"))
	}

	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
