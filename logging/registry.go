package logging

import (
	"regexp"
	"sync"

	"github.com/pkg/errors"
)

// Registry tracks named subloggers so that level patterns can be applied to them, including to
// loggers created after the patterns were set.
type Registry struct {
	mu        sync.RWMutex
	loggers   map[string]Logger
	logConfig []LoggerPatternConfig
}

var globalRegistry = newRegistry()

func newRegistry() *Registry {
	return &Registry{
		loggers: make(map[string]Logger),
	}
}

// register records logger under name, replacing any earlier logger of that name, and applies the
// current patterns to it.
func (lr *Registry) register(name string, logger Logger) Logger {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	lr.loggers[name] = logger
	for _, lpc := range lr.logConfig {
		r, err := regexp.Compile(buildRegexFromPattern(lpc.Pattern))
		if err != nil || !r.MatchString(name) {
			continue
		}
		if level, err := LevelFromString(lpc.Level); err == nil {
			logger.SetLevel(level)
		}
	}
	return logger
}

func (lr *Registry) loggerNamed(name string) (Logger, bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok := lr.loggers[name]
	return logger, ok
}

// UpdateConfig stores the patterns and applies them to every registered logger. Later patterns
// override earlier ones. Invalid patterns are reported to errorLogger and skipped.
func (lr *Registry) UpdateConfig(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.logConfig = logConfig

	for _, lpc := range logConfig {
		if !ValidatePattern(lpc.Pattern) {
			errorLogger.Warnw("failed to validate a pattern", "pattern", lpc.Pattern)
			continue
		}
		level, err := LevelFromString(lpc.Level)
		if err != nil {
			return errors.Wrapf(err, "pattern %q", lpc.Pattern)
		}
		r, err := regexp.Compile(buildRegexFromPattern(lpc.Pattern))
		if err != nil {
			return err
		}
		for name, logger := range lr.loggers {
			if r.MatchString(name) {
				logger.SetLevel(level)
			}
		}
	}
	return nil
}

// UpdateConfig applies level patterns to the loggers created through Sublogger.
func UpdateConfig(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	return globalRegistry.UpdateConfig(logConfig, errorLogger)
}

// LoggerNamed returns the registered sublogger with the given full name.
func LoggerNamed(name string) (Logger, bool) {
	return globalRegistry.loggerNamed(name)
}
