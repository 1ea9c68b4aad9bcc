package config

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_InvalidScheduleDefaultsFallBack checks that out-of-range schedule defaults
// are replaced by the built-in 00:05 / 89888 policy.
func TestProperty_InvalidScheduleDefaultsFallBack(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("hour outside [0,23] falls back to default", prop.ForAll(
		func(hour int) bool {
			cfg := &Config{Schedule: ScheduleConfig{DefaultHour: &hour}}
			applyDefaults(cfg)
			return *cfg.Schedule.DefaultHour == DefaultScheduleHour
		},
		gen.OneGenOf(gen.IntRange(-1000, -1), gen.IntRange(24, 1000)),
	))

	properties.Property("hour inside [0,23] is kept", prop.ForAll(
		func(hour int) bool {
			cfg := &Config{Schedule: ScheduleConfig{DefaultHour: &hour}}
			applyDefaults(cfg)
			return *cfg.Schedule.DefaultHour == hour
		},
		gen.IntRange(0, 23),
	))

	properties.Property("minute outside [0,59] falls back to default", prop.ForAll(
		func(minute int) bool {
			cfg := &Config{Schedule: ScheduleConfig{DefaultMinute: &minute}}
			applyDefaults(cfg)
			return *cfg.Schedule.DefaultMinute == DefaultScheduleMinute
		},
		gen.OneGenOf(gen.IntRange(-1000, -1), gen.IntRange(60, 1000)),
	))

	properties.Property("non-positive steps fall back to default", prop.ForAll(
		func(steps int) bool {
			cfg := &Config{Schedule: ScheduleConfig{DefaultSteps: steps}}
			applyDefaults(cfg)
			return cfg.Schedule.DefaultSteps == DefaultSteps
		},
		gen.IntRange(-100000, 0),
	))

	properties.Property("non-positive concurrency becomes sequential", prop.ForAll(
		func(n int) bool {
			cfg := &Config{Execution: ExecutionConfig{Concurrency: n}}
			applyDefaults(cfg)
			return cfg.Execution.Concurrency == 1
		},
		gen.IntRange(-50, 0),
	))

	properties.TestingRun(t)
}
