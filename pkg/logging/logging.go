// Package logging builds the process logger from an explicit configuration.
//
// The configuration is a filter expression of the form
//
//	level[,name=level...]
//
// where the bare level applies to every logger and name=level overrides it for
// the logger with that name and its children, e.g. "warn,librdkafka=debug".
package logging

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLevel is used when the filter doesn't set a global level.
const DefaultLevel = zapcore.InfoLevel

// offLevel is above every level zap can log at.
const offLevel = zapcore.FatalLevel + 1

// Config holds the global level and the per logger overrides.
type Config struct {
	Level zapcore.Level
	Names map[string]zapcore.Level
}

// ParseFilter parses a filter expression. An empty expression yields DefaultLevel.
func ParseFilter(filter string) (Config, error) {
	conf := Config{Level: DefaultLevel}

	for _, directive := range strings.Split(filter, ",") {
		directive = strings.TrimSpace(directive)
		if directive == "" {
			continue
		}

		name, levelText := "", directive
		if i := strings.IndexByte(directive, '='); i >= 0 {
			name, levelText = strings.TrimSpace(directive[:i]), strings.TrimSpace(directive[i+1:])
			if name == "" {
				return Config{}, errors.Errorf("invalid log directive %q: empty logger name", directive)
			}
		}

		level, err := parseLevel(levelText)
		if err != nil {
			return Config{}, errors.Wrapf(err, "invalid log directive %q", directive)
		}

		if name == "" {
			conf.Level = level
			continue
		}
		if conf.Names == nil {
			conf.Names = make(map[string]zapcore.Level)
		}
		conf.Names[name] = level
	}

	return conf, nil
}

func parseLevel(text string) (zapcore.Level, error) {
	switch strings.ToLower(text) {
	case "trace":
		return zapcore.DebugLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	case "off":
		return offLevel, nil
	}
	return zapcore.ParseLevel(text)
}

// LevelFor returns the minimum level enabled for the named logger. The longest
// matching name wins; "a" matches "a" and "a.b" but not "ab".
func (c Config) LevelFor(name string) zapcore.Level {
	level, matched := c.Level, -1
	for n, l := range c.Names {
		if (name == n || strings.HasPrefix(name, n+".")) && len(n) > matched {
			level, matched = l, len(n)
		}
	}
	return level
}

func (c Config) minLevel() zapcore.Level {
	lowest := c.Level
	for _, l := range c.Names {
		if l < lowest {
			lowest = l
		}
	}
	return lowest
}

// String renders the configuration back into a filter expression.
func (c Config) String() string {
	parts := []string{levelString(c.Level)}
	names := make([]string, 0, len(c.Names))
	for n := range c.Names {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		parts = append(parts, n+"="+levelString(c.Names[n]))
	}
	return strings.Join(parts, ",")
}

func levelString(l zapcore.Level) string {
	if l == offLevel {
		return "off"
	}
	return l.String()
}

// New returns a console logger writing to w and filtered according to conf.
func New(conf Config, w zapcore.WriteSyncer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), w, zap.LevelEnablerFunc(func(zapcore.Level) bool { return true }))
	return zap.New(NewFilterCore(core, conf))
}

// NewFilterCore wraps core so entries are dropped according to the level of their logger.
func NewFilterCore(core zapcore.Core, conf Config) zapcore.Core {
	return &filterCore{Core: core, conf: conf, lowest: conf.minLevel()}
}

type filterCore struct {
	zapcore.Core
	conf   Config
	lowest zapcore.Level
}

func (c *filterCore) Enabled(l zapcore.Level) bool {
	return l >= c.lowest
}

func (c *filterCore) With(fields []zapcore.Field) zapcore.Core {
	return &filterCore{Core: c.Core.With(fields), conf: c.conf, lowest: c.lowest}
}

func (c *filterCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if ent.Level < c.conf.LevelFor(ent.LoggerName) {
		return ce
	}
	return ce.AddCore(ent, c)
}
