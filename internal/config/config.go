package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"studentrisk/internal/scoring"
)

// ScheduleOff disables the scheduled batch when used as APP_BATCH_SCHEDULE.
const ScheduleOff = "off"

// Config holds the core runtime configuration for the service.
// Values are sourced from APP_* environment variables, with defaults
// where appropriate. See .env.example.
type Config struct {
	DatabaseURL string `validate:"required"`
	ListenAddr  string `validate:"required"`

	AdminUser     string
	AdminPassword string

	// RetentionDays bounds how long batch run history is kept.
	RetentionDays int `validate:"gte=0"`

	BatchSchedule string
	BatchTimeout  time.Duration `validate:"gte=0"`
	BatchWorkers  int           `validate:"min=1,max=64"`

	// AttendanceDir switches attendance reads to per-subject CSV files.
	AttendanceDir string

	RollbarToken string
	Env          string

	Weights    Weights
	TierStar   float64 `validate:"gte=0,lte=100"`
	TierAtRisk float64 `validate:"gte=0,lte=100,ltfield=TierStar"`
}

type Weights struct {
	Attendance float64 `validate:"gte=0,lte=1"`
	Grade      float64 `validate:"gte=0,lte=1"`
	Submission float64 `validate:"gte=0,lte=1"`
	Engagement float64 `validate:"gte=0,lte=1"`
}

func setDefaults(v *viper.Viper) {
	def := scoring.DefaultConfig()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_password", "changeme")
	v.SetDefault("retention_days", 30)
	v.SetDefault("batch_schedule", "30 2 * * *")
	v.SetDefault("batch_timeout", 30*time.Minute)
	v.SetDefault("batch_workers", 4)
	v.SetDefault("env", "development")
	v.SetDefault("weight_attendance", def.Weights.Attendance)
	v.SetDefault("weight_grade", def.Weights.Grade)
	v.SetDefault("weight_submission", def.Weights.Submission)
	v.SetDefault("weight_engagement", def.Weights.Engagement)
	v.SetDefault("tier_star", def.StarThreshold)
	v.SetDefault("tier_at_risk", def.AtRiskThreshold)
}

// Load reads configuration from APP_* environment variables. Call
// godotenv.Load first to honour a local .env file.
func Load() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v)
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	return &Config{
		DatabaseURL:   v.GetString("database_url"),
		ListenAddr:    v.GetString("listen_addr"),
		AdminUser:     v.GetString("admin_user"),
		AdminPassword: v.GetString("admin_password"),
		RetentionDays: v.GetInt("retention_days"),
		BatchSchedule: strings.TrimSpace(v.GetString("batch_schedule")),
		BatchTimeout:  v.GetDuration("batch_timeout"),
		BatchWorkers:  v.GetInt("batch_workers"),
		AttendanceDir: v.GetString("attendance_dir"),
		RollbarToken:  v.GetString("rollbar_token"),
		Env:           v.GetString("env"),
		Weights: Weights{
			Attendance: v.GetFloat64("weight_attendance"),
			Grade:      v.GetFloat64("weight_grade"),
			Submission: v.GetFloat64("weight_submission"),
			Engagement: v.GetFloat64("weight_engagement"),
		},
		TierStar:   v.GetFloat64("tier_star"),
		TierAtRisk: v.GetFloat64("tier_at_risk"),
	}
}

// ScheduleEnabled reports whether the batch should run on a cron schedule.
func (c *Config) ScheduleEnabled() bool {
	return c.BatchSchedule != "" && !strings.EqualFold(c.BatchSchedule, ScheduleOff)
}

// Validate checks field ranges and the cron schedule.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	if c.ScheduleEnabled() {
		if _, err := cron.ParseStandard(c.BatchSchedule); err != nil {
			return errors.Wrapf(err, "invalid config: APP_BATCH_SCHEDULE %q", c.BatchSchedule)
		}
	}
	return nil
}

// Scoring builds the scorer's rule set.
func (c *Config) Scoring() scoring.Config {
	return scoring.Config{
		Weights: scoring.Weights{
			Attendance: c.Weights.Attendance,
			Grade:      c.Weights.Grade,
			Submission: c.Weights.Submission,
			Engagement: c.Weights.Engagement,
		},
		StarThreshold:   c.TierStar,
		AtRiskThreshold: c.TierAtRisk,
	}
}
