package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	MQTT        MQTTConfig       `yaml:"mqtt"`
	Transport   TransportConfig  `yaml:"transport"`
	Node        NodeConfig       `yaml:"node"`
	Sensor      SensorConfig     `yaml:"sensor"`
	Sampler     SamplerConfig    `yaml:"sampler"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Classifier  ClassifierConfig `yaml:"classifier"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Recording   RecordingConfig  `yaml:"recording"`
	Storage     StorageConfig    `yaml:"storage"`
	EventStore  EventStoreConfig `yaml:"event_store"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	ReconnectWait  int      `yaml:"reconnect_wait_ms"`
}

type MQTTConfig struct {
	Broker         string `yaml:"broker"`
	ClientID       string `yaml:"client_id"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	KeepAlive      int    `yaml:"keep_alive_s"`
	ConnectTimeout int    `yaml:"connect_timeout_ms"`
}

// TransportConfig selects the link layer that carries samples between the
// watch and the phone. Only one link per pairing is active at a time.
type TransportConfig struct {
	Link             string `yaml:"link"` // nats, mqtt, loopback
	PairingID        string `yaml:"pairing_id"`
	ReactivateMinGap int    `yaml:"reactivate_min_gap_ms"`
	ActivateTimeout  int    `yaml:"activate_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"` // watch, phone, standalone
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type SensorConfig struct {
	Mode       string `yaml:"mode"` // mock, mpu9250, serial
	SPIDevice  string `yaml:"spi_device"`
	CSPin      string `yaml:"cs_pin"`
	AccelRange int    `yaml:"accel_range"` // 0=±2g, 1=±4g, 2=±8g, 3=±16g
	GyroRange  int    `yaml:"gyro_range"`  // 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
	StaleAfter int    `yaml:"stale_after_ms"`
	MockScript string `yaml:"mock_script"` // comma separated gesture names cycled by the mock source
}

type SamplerConfig struct {
	RateHz float64 `yaml:"rate_hz"`
}

type PipelineConfig struct {
	WindowSize           int     `yaml:"window_size"`
	HistorySize          int     `yaml:"history_size"`
	ConfidenceThreshold  float64 `yaml:"confidence_threshold"`
	ClassifyDuringWarmup bool    `yaml:"classify_during_warmup"`
	InboxSize            int     `yaml:"inbox_size"`
	UpdateBuffer         int     `yaml:"update_buffer"`
}

type ClassifierConfig struct {
	Mode       string               `yaml:"mode"` // centroid, exec, http, wasm
	Command    string               `yaml:"command"`
	Endpoint   string               `yaml:"endpoint"`
	Module     string               `yaml:"module"`
	Entrypoint string               `yaml:"entrypoint"`
	TimeoutMS  int                  `yaml:"timeout_ms"`
	Sharpness  float64              `yaml:"sharpness"`
	Labels     map[string]string    `yaml:"labels"`
	Centroids  map[string][]float64 `yaml:"centroids"`
}

type LLMConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Mode        string  `yaml:"mode"` // mock, ollama, openai, exec
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Mode            string `yaml:"mode"`
	Command         string `yaml:"command"`
	Voice           string `yaml:"voice"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	ChunkDurationMS int    `yaml:"chunk_duration_ms"`
	ReadGestures    bool   `yaml:"read_gestures"`
	ReadSentences   bool   `yaml:"read_sentences"`
}

type RecordingConfig struct {
	Labels       []string `yaml:"labels"`
	DefaultLabel string   `yaml:"default_label"`
}

type StorageConfig struct {
	Mode      string `yaml:"mode"` // event_store, directory
	Directory string `yaml:"directory"`
	ObjectKey string `yaml:"object_key"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-gesture",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "0.0.0.0",
			Port:    8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       false,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			ReconnectWait:  1000,
		},
		MQTT: MQTTConfig{
			Broker:         "tcp://localhost:1883",
			ClientID:       "loqa-gesture",
			KeepAlive:      10,
			ConnectTimeout: 2000,
		},
		Transport: TransportConfig{
			Link:             "nats",
			PairingID:        "default",
			ReactivateMinGap: 500,
			ActivateTimeout:  3000,
		},
		Node: NodeConfig{
			ID:                "gesture-node-1",
			Role:              "phone",
			HeartbeatInterval: 1000,
			HeartbeatTimeout:  3000,
		},
		Sensor: SensorConfig{
			Mode:       "mock",
			SPIDevice:  "/dev/spidev0.0",
			CSPin:      "8",
			AccelRange: 1,
			GyroRange:  1,
			SerialPort: "/dev/ttyUSB0",
			BaudRate:   115200,
			StaleAfter: 200,
		},
		Sampler: SamplerConfig{
			RateHz: 15,
		},
		Pipeline: PipelineConfig{
			WindowSize:           10,
			HistorySize:          5,
			ConfidenceThreshold:  0.8,
			ClassifyDuringWarmup: false,
			InboxSize:            256,
			UpdateBuffer:         64,
		},
		Classifier: ClassifierConfig{
			Mode:       "centroid",
			Entrypoint: "classify",
			TimeoutMS:  250,
			Sharpness:  0.25,
			Labels: map[string]string{
				"0": "hello",
				"1": "empower",
				"2": "connect",
				"3": "world",
				"4": "silence",
				"5": "clench",
			},
			Centroids: map[string][]float64{
				"hello":   {0.2, 0.6, -0.6, 0.5, 1.8, 0.2},
				"empower": {0.0, 0.9, 0.2, 0.2, 0.3, 0.2},
				"connect": {0.5, -0.5, -0.5, 1.5, 0.1, 0.1},
				"world":   {-0.7, 0.1, -0.5, 0.1, 0.2, 2.0},
				"silence": {0.0, 0.0, -1.0, 0.0, 0.0, 0.0},
				"clench":  {0.1, 0.1, -0.95, 0.6, 0.6, 0.6},
			},
		},
		LLM: LLMConfig{
			Enabled:     true,
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   256,
			Temperature: 0.1,
			TimeoutMS:   30000,
		},
		TTS: TTSConfig{
			Enabled:         false,
			Mode:            "mock",
			Voice:           "en-US",
			SampleRate:      22050,
			Channels:        1,
			ChunkDurationMS: 400,
			ReadGestures:    true,
			ReadSentences:   true,
		},
		Recording: RecordingConfig{
			Labels:       []string{"hello", "world", "connect", "empower", "silence"},
			DefaultLabel: "hello",
		},
		Storage: StorageConfig{
			Mode:      "event_store",
			Directory: "./data/recordings",
			ObjectKey: "sensor_data",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/gesture-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "GESTURE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "GESTURE_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "GESTURE_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "GESTURE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "GESTURE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "GESTURE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "GESTURE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "GESTURE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "GESTURE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "GESTURE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "GESTURE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "GESTURE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "GESTURE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "GESTURE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "GESTURE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "GESTURE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "GESTURE_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Bus.ReconnectWait, "GESTURE_BUS_RECONNECT_WAIT_MS")
	overrideString(&cfg.MQTT.Broker, "GESTURE_MQTT_BROKER")
	overrideString(&cfg.MQTT.ClientID, "GESTURE_MQTT_CLIENT_ID")
	overrideString(&cfg.MQTT.Username, "GESTURE_MQTT_USERNAME")
	overrideString(&cfg.MQTT.Password, "GESTURE_MQTT_PASSWORD")
	overrideInt(&cfg.MQTT.KeepAlive, "GESTURE_MQTT_KEEP_ALIVE_S")
	overrideInt(&cfg.MQTT.ConnectTimeout, "GESTURE_MQTT_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Transport.Link, "GESTURE_TRANSPORT_LINK")
	overrideString(&cfg.Transport.PairingID, "GESTURE_TRANSPORT_PAIRING_ID")
	overrideInt(&cfg.Transport.ReactivateMinGap, "GESTURE_TRANSPORT_REACTIVATE_MIN_GAP_MS")
	overrideInt(&cfg.Transport.ActivateTimeout, "GESTURE_TRANSPORT_ACTIVATE_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "GESTURE_NODE_ID")
	overrideString(&cfg.Node.Role, "GESTURE_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "GESTURE_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "GESTURE_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.Sensor.Mode, "GESTURE_SENSOR_MODE")
	overrideString(&cfg.Sensor.SPIDevice, "GESTURE_SENSOR_SPI_DEVICE")
	overrideString(&cfg.Sensor.CSPin, "GESTURE_SENSOR_CS_PIN")
	overrideInt(&cfg.Sensor.AccelRange, "GESTURE_SENSOR_ACCEL_RANGE")
	overrideInt(&cfg.Sensor.GyroRange, "GESTURE_SENSOR_GYRO_RANGE")
	overrideString(&cfg.Sensor.SerialPort, "GESTURE_SENSOR_SERIAL_PORT")
	overrideInt(&cfg.Sensor.BaudRate, "GESTURE_SENSOR_BAUD_RATE")
	overrideInt(&cfg.Sensor.StaleAfter, "GESTURE_SENSOR_STALE_AFTER_MS")
	overrideString(&cfg.Sensor.MockScript, "GESTURE_SENSOR_MOCK_SCRIPT")
	overrideFloat(&cfg.Sampler.RateHz, "GESTURE_SAMPLER_RATE_HZ")
	overrideInt(&cfg.Pipeline.WindowSize, "GESTURE_PIPELINE_WINDOW_SIZE")
	overrideInt(&cfg.Pipeline.HistorySize, "GESTURE_PIPELINE_HISTORY_SIZE")
	overrideFloat(&cfg.Pipeline.ConfidenceThreshold, "GESTURE_PIPELINE_CONFIDENCE_THRESHOLD")
	overrideBool(&cfg.Pipeline.ClassifyDuringWarmup, "GESTURE_PIPELINE_CLASSIFY_DURING_WARMUP")
	overrideInt(&cfg.Pipeline.InboxSize, "GESTURE_PIPELINE_INBOX_SIZE")
	overrideInt(&cfg.Pipeline.UpdateBuffer, "GESTURE_PIPELINE_UPDATE_BUFFER")
	overrideString(&cfg.Classifier.Mode, "GESTURE_CLASSIFIER_MODE")
	overrideString(&cfg.Classifier.Command, "GESTURE_CLASSIFIER_COMMAND")
	overrideString(&cfg.Classifier.Endpoint, "GESTURE_CLASSIFIER_ENDPOINT")
	overrideString(&cfg.Classifier.Module, "GESTURE_CLASSIFIER_MODULE")
	overrideString(&cfg.Classifier.Entrypoint, "GESTURE_CLASSIFIER_ENTRYPOINT")
	overrideInt(&cfg.Classifier.TimeoutMS, "GESTURE_CLASSIFIER_TIMEOUT_MS")
	overrideFloat(&cfg.Classifier.Sharpness, "GESTURE_CLASSIFIER_SHARPNESS")
	overrideBool(&cfg.LLM.Enabled, "GESTURE_LLM_ENABLED")
	overrideString(&cfg.LLM.Mode, "GESTURE_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "GESTURE_LLM_ENDPOINT")
	overrideString(&cfg.LLM.APIKey, "GESTURE_LLM_API_KEY")
	overrideString(&cfg.LLM.Command, "GESTURE_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "GESTURE_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "GESTURE_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "GESTURE_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "GESTURE_LLM_TIMEOUT_MS")
	overrideBool(&cfg.TTS.Enabled, "GESTURE_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "GESTURE_TTS_MODE")
	overrideString(&cfg.TTS.Command, "GESTURE_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "GESTURE_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "GESTURE_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "GESTURE_TTS_CHANNELS")
	overrideInt(&cfg.TTS.ChunkDurationMS, "GESTURE_TTS_CHUNK_DURATION_MS")
	overrideBool(&cfg.TTS.ReadGestures, "GESTURE_TTS_READ_GESTURES")
	overrideBool(&cfg.TTS.ReadSentences, "GESTURE_TTS_READ_SENTENCES")
	overrideStringSlice(&cfg.Recording.Labels, "GESTURE_RECORDING_LABELS")
	overrideString(&cfg.Recording.DefaultLabel, "GESTURE_RECORDING_DEFAULT_LABEL")
	overrideString(&cfg.Storage.Mode, "GESTURE_STORAGE_MODE")
	overrideString(&cfg.Storage.Directory, "GESTURE_STORAGE_DIRECTORY")
	overrideString(&cfg.Storage.ObjectKey, "GESTURE_STORAGE_OBJECT_KEY")
	overrideString(&cfg.EventStore.Path, "GESTURE_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "GESTURE_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "GESTURE_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "GESTURE_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "GESTURE_EVENT_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Transport.Link {
	case "nats":
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	case "mqtt":
		if cfg.MQTT.Broker == "" {
			return errors.New("mqtt.broker must be set when transport.link=mqtt")
		}
	case "loopback":
	default:
		return errors.New("transport.link must be one of nats|mqtt|loopback")
	}
	if cfg.Transport.PairingID == "" {
		return errors.New("transport.pairing_id must not be empty")
	}
	if strings.ContainsAny(cfg.Transport.PairingID, ".*> /#+") {
		return errors.New("transport.pairing_id must not contain subject or topic separators")
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	switch cfg.Node.Role {
	case "watch", "phone", "standalone":
	default:
		return errors.New("node.role must be one of watch|phone|standalone")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	switch cfg.Sensor.Mode {
	case "mock":
	case "mpu9250":
		if cfg.Sensor.SPIDevice == "" || cfg.Sensor.CSPin == "" {
			return errors.New("sensor.spi_device and sensor.cs_pin must be set when mode=mpu9250")
		}
		if cfg.Sensor.AccelRange < 0 || cfg.Sensor.AccelRange > 3 {
			return fmt.Errorf("sensor.accel_range must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", cfg.Sensor.AccelRange)
		}
		if cfg.Sensor.GyroRange < 0 || cfg.Sensor.GyroRange > 3 {
			return fmt.Errorf("sensor.gyro_range must be 0-3 (0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s), got %d", cfg.Sensor.GyroRange)
		}
	case "serial":
		if cfg.Sensor.SerialPort == "" {
			return errors.New("sensor.serial_port must be set when mode=serial")
		}
		if cfg.Sensor.BaudRate <= 0 {
			return errors.New("sensor.baud_rate must be positive")
		}
	default:
		return errors.New("sensor.mode must be one of mock|mpu9250|serial")
	}
	if cfg.Sampler.RateHz <= 0 || cfg.Sampler.RateHz > 1000 {
		return errors.New("sampler.rate_hz must be in (0, 1000]")
	}
	if cfg.Pipeline.WindowSize <= 0 {
		return errors.New("pipeline.window_size must be >= 1")
	}
	if cfg.Pipeline.HistorySize <= 0 {
		return errors.New("pipeline.history_size must be >= 1")
	}
	if cfg.Pipeline.ConfidenceThreshold < 0 || cfg.Pipeline.ConfidenceThreshold > 1 {
		return errors.New("pipeline.confidence_threshold must be within [0, 1]")
	}
	if cfg.Pipeline.InboxSize <= 0 {
		return errors.New("pipeline.inbox_size must be >= 1")
	}
	switch cfg.Classifier.Mode {
	case "centroid":
		if len(cfg.Classifier.Centroids) == 0 {
			return errors.New("classifier.centroids must not be empty when mode=centroid")
		}
		for label, c := range cfg.Classifier.Centroids {
			if len(c) != 6 {
				return fmt.Errorf("classifier.centroids[%s] must have 6 values, got %d", label, len(c))
			}
		}
	case "exec":
		if cfg.Classifier.Command == "" {
			return errors.New("classifier.command must be set when mode=exec")
		}
	case "http":
		if cfg.Classifier.Endpoint == "" {
			return errors.New("classifier.endpoint must be set when mode=http")
		}
	case "wasm":
		if cfg.Classifier.Module == "" {
			return errors.New("classifier.module must be set when mode=wasm")
		}
	default:
		return errors.New("classifier.mode must be one of centroid|exec|http|wasm")
	}
	if cfg.LLM.Enabled {
		switch cfg.LLM.Mode {
		case "mock", "ollama", "openai", "exec":
		default:
			return errors.New("llm.mode must be one of mock|ollama|openai|exec")
		}
		if (cfg.LLM.Mode == "ollama" || cfg.LLM.Mode == "openai") && cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama or mode=openai")
		}
		if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
		if cfg.LLM.MaxTokens < 0 {
			return errors.New("llm.max_tokens must be >= 0")
		}
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec":
		default:
			return errors.New("tts.mode must be one of mock|exec")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
		if cfg.TTS.Channels <= 0 {
			return errors.New("tts.channels must be positive")
		}
	}
	if len(cfg.Recording.Labels) == 0 {
		return errors.New("recording.labels must not be empty")
	}
	found := false
	for _, l := range cfg.Recording.Labels {
		if l == cfg.Recording.DefaultLabel {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("recording.default_label %q must be one of recording.labels", cfg.Recording.DefaultLabel)
	}
	switch cfg.Storage.Mode {
	case "event_store":
		if cfg.EventStore.RetentionMode == "ephemeral" {
			return errors.New("storage.mode=event_store requires a non-ephemeral event_store.retention_mode")
		}
	case "directory":
		if cfg.Storage.Directory == "" {
			return errors.New("storage.directory must be set when mode=directory")
		}
	default:
		return errors.New("storage.mode must be one of event_store|directory")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
