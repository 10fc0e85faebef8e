package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eric2788/webcamrec/utils"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
	"golang.org/x/crypto/bcrypt"
)

var logger = logrus.WithField("module", "config")

var ErrInvalidConfig = fmt.Errorf("invalid configuration")

// all config will be loaded from environment variables,
// optionally seeded from a .env file in the working directory
type Config struct {
	AnonymousLogin bool
	Port           string
	LogLevel       logrus.Level
	DocsFile       string

	SaveDir     string
	HLSDir      string
	DatabaseDir string
	ErrorLog    string

	SegmentDuration time.Duration
	Width           int
	Height          int
	Framerate       int
	VFlip           bool

	CaptureCommand string
	EncoderCommand string

	ChunkSize            int
	SinkBufferChunks     int
	MaxRestartAttempts   int
	RestartBackoff       time.Duration
	MaxRestartsPerMinute int
	StopGrace            time.Duration
	StartupTimeout       time.Duration
	StallTimeout         time.Duration
	MinFreeBytes         uint64

	AutoStart             bool
	RecordOnStart         bool
	ConvertToMp4          bool
	DeleteRawAfterConvert bool
	// remuxing waits while recording and system cpu is at least this busy
	RemuxCPUPercent       int

	Username     string
	PasswordHash string
	JwtSecret    string
}

func env(key, def string) string {
	return utils.EmptyOrElse(os.Getenv(key), def)
}

func seconds(key, def string) time.Duration {
	return time.Duration(utils.MustAtoi(env(key, def))) * time.Second
}

// FromEnv reads the configuration from the environment.
// Malformed numbers and booleans panic, like a bad flag would.
func FromEnv() (*Config, error) {
	password := os.Getenv("PASSWORD")
	username := os.Getenv("USERNAME")

	var passwordHash []byte
	var err error
	if password != "" && username != "" {
		passwordHash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	} else {
		passwordHash, err = []byte{}, nil
	}
	if err != nil {
		return nil, err
	}

	level, err := logrus.ParseLevel(env("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cfg := &Config{
		AnonymousLogin: utils.MustParseBool(env("ANONYMOUS_LOGIN", "false")),
		Port:           env("PORT", "8080"),
		LogLevel:       level,
		DocsFile:       env("DOCS_FILE", "docs/swagger.json"),

		SaveDir:     env("SAVE_DIR", "/home/pioreactor/data/camera"),
		HLSDir:      env("HLS_DIR", "/var/www/pioreactorui/data"),
		DatabaseDir: env("DATABASE_DIR", "database"),
		ErrorLog:    os.Getenv("ERROR_LOG"),

		SegmentDuration: time.Duration(utils.MustAtoi(env("SEGMENT_DURATION_MINUTES", "15"))) * time.Minute,
		Width:           utils.MustAtoi(env("WIDTH", "1920")),
		Height:          utils.MustAtoi(env("HEIGHT", "1080")),
		Framerate:       utils.MustAtoi(env("FRAMERATE", "30")),
		VFlip:           utils.MustParseBool(env("VFLIP", "true")),

		CaptureCommand: env("CAPTURE_COMMAND", "rpicam-vid"),
		EncoderCommand: env("ENCODER_COMMAND", "ffmpeg"),

		ChunkSize:            utils.MustAtoi(env("CHUNK_SIZE", "8192")),
		SinkBufferChunks:     utils.MustAtoi(env("SINK_BUFFER_CHUNKS", "256")),
		MaxRestartAttempts:   utils.MustAtoi(env("MAX_RESTART_ATTEMPTS", "5")),
		RestartBackoff:       seconds("RESTART_BACKOFF_SECONDS", "1"),
		MaxRestartsPerMinute: utils.MustAtoi(env("MAX_RESTARTS_PER_MINUTE", "6")),
		StopGrace:            seconds("STOP_GRACE_SECONDS", "10"),
		StartupTimeout:       seconds("STARTUP_TIMEOUT_SECONDS", "15"),
		StallTimeout:         seconds("STALL_TIMEOUT_SECONDS", "10"),
		MinFreeBytes:         uint64(utils.MustAtoi(env("MIN_FREE_MB", "200"))) * 1024 * 1024,

		AutoStart:             utils.MustParseBool(env("AUTO_START", "true")),
		RecordOnStart:         utils.MustParseBool(env("RECORD_ON_START", "false")),
		ConvertToMp4:          utils.MustParseBool(env("CONVERT_TO_MP4", "false")),
		DeleteRawAfterConvert: utils.MustParseBool(env("DELETE_RAW_AFTER_CONVERT", "false")),
		RemuxCPUPercent:       utils.MustAtoi(env("REMUX_CPU_PERCENT", "80")),

		Username:     username,
		PasswordHash: string(passwordHash),
		JwtSecret:    env("JWT_SECRET", ""),
	}

	if cfg.JwtSecret == "" {
		cfg.JwtSecret = utils.RandomHexStringMust(32)
		if !cfg.AnonymousLogin {
			logger.Warn("JWT_SECRET not set, using a random secret; tokens will not survive a restart")
		}
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("WIDTH", c.Width)
	positive("HEIGHT", c.Height)
	positive("FRAMERATE", c.Framerate)
	positive("CHUNK_SIZE", c.ChunkSize)
	positive("SINK_BUFFER_CHUNKS", c.SinkBufferChunks)
	if c.SegmentDuration <= 0 {
		errs = append(errs, fmt.Errorf("SEGMENT_DURATION_MINUTES must be positive"))
	}
	if c.RemuxCPUPercent < 0 {
		errs = append(errs, fmt.Errorf("REMUX_CPU_PERCENT must not be negative, got %d", c.RemuxCPUPercent))
	}
	if c.MaxRestartAttempts < 0 || c.MaxRestartsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("restart limits must not be negative"))
	}
	if c.StartupTimeout <= 0 || c.StopGrace <= 0 {
		errs = append(errs, fmt.Errorf("STARTUP_TIMEOUT_SECONDS and STOP_GRACE_SECONDS must be positive"))
	}
	if c.SaveDir == "" || c.HLSDir == "" {
		errs = append(errs, fmt.Errorf("SAVE_DIR and HLS_DIR must be set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.DatabaseDir, "webcamrec.db")
}

func provider() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("cannot load .env: %v", err)
	}
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(cfg.LogLevel)
	return cfg, nil
}

var Module = fx.Module("config", fx.Provide(provider))
