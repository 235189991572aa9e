package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig
	Server     ServerConfig
	Paths      PathsConfig
	Simulation SimulationConfig
	Model      ModelConfig
	Holiday    HolidayConfig
	Redis      RedisConfig
	MQTT       MQTTConfig
	CORS       CORSConfig
}

type AppConfig struct {
	Env         string
	MetricsAddr string
}

func (a AppConfig) IsProduction() bool {
	return a.Env == "production"
}

type ServerConfig struct {
	Port int
}

type PathsConfig struct {
	DataDir      string
	ModelDir     string
	BaseDataFile string
	SimDataFile  string
	StatusFile   string
	LockFile     string
	ModelName    string
	SimModelName string
	BackupName   string
}

// ModelFile is the production artifact served when no simulation is running.
func (p PathsConfig) ModelFile() string {
	return filepath.Join(p.ModelDir, p.ModelName+".json")
}

func (p PathsConfig) SimulationModelFile() string {
	return filepath.Join(p.ModelDir, p.SimModelName+".json")
}

func (p PathsConfig) BackupModelFile() string {
	return filepath.Join(p.ModelDir, p.BackupName+".json")
}

type SimulationConfig struct {
	TickInterval       time.Duration
	RetrainEvery       int
	MaxRows            int
	StopTimeout        time.Duration
	MaxRetrainFailures int
	StartDate          string
	Seed               int64
}

type ModelConfig struct {
	NEstimators    int
	MaxDepth       int
	LearningRate   float64
	Subsample      float64
	MinSamplesLeaf int
	MaxBins        int
	Seed           int64
}

type HolidayConfig struct {
	APIURL  string
	Timeout time.Duration
}

type RedisConfig struct {
	URL string
}

type MQTTConfig struct {
	URL         string
	TopicPrefix string
}

type CORSConfig struct {
	AllowedOrigins string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("METRICS_ADDR", "")
	v.SetDefault("SERVER_PORT", 8080)

	v.SetDefault("DATA_DIR", "data")
	v.SetDefault("MODEL_DIR", "models")
	v.SetDefault("BASE_DATA_FILE", "train_booking_data_2016_2025.csv")
	v.SetDefault("SIM_DATA_FILE", "simulation_data.csv")
	v.SetDefault("STATUS_FILE", "simulation_status.json")
	v.SetDefault("LOCK_FILE", filepath.Join("/tmp", "trainflow-simulation.lock"))
	v.SetDefault("MODEL_NAME", "demand_prediction_model")
	v.SetDefault("SIM_MODEL_NAME", "simulation_model")
	v.SetDefault("BACKUP_MODEL_NAME", "original_model_backup")

	v.SetDefault("TICK_INTERVAL_SEC", 5)
	v.SetDefault("RETRAIN_EVERY", 5)
	v.SetDefault("MAX_ROWS", 1000)
	v.SetDefault("STOP_TIMEOUT_SEC", 10)
	v.SetDefault("MAX_RETRAIN_FAILURES", 10)
	v.SetDefault("SIM_START_DATE", "")
	v.SetDefault("SIM_SEED", 42)

	v.SetDefault("GB_N_ESTIMATORS", 200)
	v.SetDefault("GB_MAX_DEPTH", 6)
	v.SetDefault("GB_LEARNING_RATE", 0.1)
	v.SetDefault("GB_SUBSAMPLE", 0.8)
	v.SetDefault("GB_MIN_SAMPLES_LEAF", 5)
	v.SetDefault("GB_MAX_BINS", 64)
	v.SetDefault("GB_SEED", 42)

	v.SetDefault("HOLIDAY_API_URL", "https://api-harilibur.vercel.app")
	v.SetDefault("HOLIDAY_API_TIMEOUT_MS", 2000)

	v.SetDefault("REDIS_URL", "")
	v.SetDefault("MQTT_URL", "")
	v.SetDefault("MQTT_TOPIC_PREFIX", "trainflow/bookings")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
}

// LoadConfig reads settings from the environment, optionally overlaid by a
// .env file in the working directory.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	serverPort := v.GetInt("SERVER_PORT")
	if serverPort <= 0 || serverPort > 65535 {
		return nil, fmt.Errorf("invalid SERVER_PORT: %q", v.GetString("SERVER_PORT"))
	}

	tick := v.GetInt("TICK_INTERVAL_SEC")
	if tick <= 0 {
		return nil, fmt.Errorf("invalid TICK_INTERVAL_SEC: %q", v.GetString("TICK_INTERVAL_SEC"))
	}
	retrainEvery := v.GetInt("RETRAIN_EVERY")
	if retrainEvery <= 0 {
		return nil, fmt.Errorf("invalid RETRAIN_EVERY: %q", v.GetString("RETRAIN_EVERY"))
	}
	maxRows := v.GetInt("MAX_ROWS")
	if maxRows <= 0 {
		return nil, fmt.Errorf("invalid MAX_ROWS: %q", v.GetString("MAX_ROWS"))
	}

	if start := v.GetString("SIM_START_DATE"); start != "" {
		if _, err := time.Parse(time.DateOnly, start); err != nil {
			return nil, fmt.Errorf("invalid SIM_START_DATE: %w", err)
		}
	}

	timeout := time.Duration(v.GetInt("HOLIDAY_API_TIMEOUT_MS")) * time.Millisecond
	if timeout <= 0 || timeout > 5*time.Second {
		timeout = 2 * time.Second
	}

	dataDir := v.GetString("DATA_DIR")
	cfg := &Config{
		App: AppConfig{
			Env:         strings.ToLower(v.GetString("APP_ENV")),
			MetricsAddr: v.GetString("METRICS_ADDR"),
		},
		Server: ServerConfig{
			Port: serverPort,
		},
		Paths: PathsConfig{
			DataDir:      dataDir,
			ModelDir:     v.GetString("MODEL_DIR"),
			BaseDataFile: inDir(dataDir, v.GetString("BASE_DATA_FILE")),
			SimDataFile:  inDir(dataDir, v.GetString("SIM_DATA_FILE")),
			StatusFile:   v.GetString("STATUS_FILE"),
			LockFile:     v.GetString("LOCK_FILE"),
			ModelName:    v.GetString("MODEL_NAME"),
			SimModelName: v.GetString("SIM_MODEL_NAME"),
			BackupName:   v.GetString("BACKUP_MODEL_NAME"),
		},
		Simulation: SimulationConfig{
			TickInterval:       time.Duration(tick) * time.Second,
			RetrainEvery:       retrainEvery,
			MaxRows:            maxRows,
			StopTimeout:        time.Duration(v.GetInt("STOP_TIMEOUT_SEC")) * time.Second,
			MaxRetrainFailures: v.GetInt("MAX_RETRAIN_FAILURES"),
			StartDate:          v.GetString("SIM_START_DATE"),
			Seed:               v.GetInt64("SIM_SEED"),
		},
		Model: ModelConfig{
			NEstimators:    v.GetInt("GB_N_ESTIMATORS"),
			MaxDepth:       v.GetInt("GB_MAX_DEPTH"),
			LearningRate:   v.GetFloat64("GB_LEARNING_RATE"),
			Subsample:      v.GetFloat64("GB_SUBSAMPLE"),
			MinSamplesLeaf: v.GetInt("GB_MIN_SAMPLES_LEAF"),
			MaxBins:        v.GetInt("GB_MAX_BINS"),
			Seed:           v.GetInt64("GB_SEED"),
		},
		Holiday: HolidayConfig{
			APIURL:  v.GetString("HOLIDAY_API_URL"),
			Timeout: timeout,
		},
		Redis: RedisConfig{
			URL: v.GetString("REDIS_URL"),
		},
		MQTT: MQTTConfig{
			URL:         v.GetString("MQTT_URL"),
			TopicPrefix: v.GetString("MQTT_TOPIC_PREFIX"),
		},
		CORS: CORSConfig{
			AllowedOrigins: v.GetString("CORS_ALLOWED_ORIGINS"),
		},
	}

	return cfg, nil
}

func inDir(dir, name string) string {
	if filepath.IsAbs(name) || strings.ContainsRune(name, filepath.Separator) {
		return name
	}
	return filepath.Join(dir, name)
}
