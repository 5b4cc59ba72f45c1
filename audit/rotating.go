package audit

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// RotatingFileConfig configures NewRotatingFileSink.
type RotatingFileConfig struct {
	// Dir receives files named audit.YYYYMMDD.log.
	Dir          string        `yaml:"dir"`
	RotationTime time.Duration `yaml:"rotation_time"`
	MaxAge       time.Duration `yaml:"max_age"`
}

// RotatingFileSink appends JSON lines to time-rotated files.
type RotatingFileSink struct {
	rl   *rotatelogs.RotateLogs
	json *JSONWriterSink
}

// NewRotatingFileSink opens the rotating writer. A symlink audit.log points
// at the current file.
func NewRotatingFileSink(cfg RotatingFileConfig) (*RotatingFileSink, error) {
	if cfg.Dir == "" {
		return nil, errors.New("audit: rotating sink requires a directory")
	}
	if cfg.RotationTime <= 0 {
		cfg.RotationTime = 24 * time.Hour
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 90 * 24 * time.Hour
	}
	rl, err := rotatelogs.New(
		filepath.Join(cfg.Dir, "audit.%Y%m%d.log"),
		rotatelogs.WithLinkName(filepath.Join(cfg.Dir, "audit.log")),
		rotatelogs.WithRotationTime(cfg.RotationTime),
		rotatelogs.WithMaxAge(cfg.MaxAge),
	)
	if err != nil {
		return nil, err
	}
	return &RotatingFileSink{rl: rl, json: NewJSONWriterSink(rl)}, nil
}

func (s *RotatingFileSink) Record(ctx context.Context, event Event) error {
	return s.json.Record(ctx, event)
}

// CurrentFile returns the path being written.
func (s *RotatingFileSink) CurrentFile() string {
	return s.rl.CurrentFileName()
}

func (s *RotatingFileSink) Close() error {
	return s.rl.Close()
}
