package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/octreeview/logging"
	"go.viam.com/octreeview/nodecache"
)

const fullConfig = `
log_level: debug
log:
  - pattern: nodecache.*
    level: warn
stats_interval: 10s
cache:
  eviction: count
  max_nodes: 64
  max_in_flight: 4
  seed: 42
source:
  type: sqlite
  path: ${OCTREEVIEW_TEST_DIR}/cloud.db
`

func TestRead(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OCTREEVIEW_TEST_DIR", dir)
	path := filepath.Join(dir, "config.yaml")
	test.That(t, os.WriteFile(path, []byte(fullConfig), 0o600), test.ShouldBeNil)

	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, path)
	test.That(t, cfg.Level(), test.ShouldEqual, logging.DEBUG)
	test.That(t, cfg.LogConfig, test.ShouldResemble, []logging.LoggerPatternConfig{{Pattern: "nodecache.*", Level: "warn"}})
	test.That(t, cfg.Source, test.ShouldResemble, SourceConfig{Type: SourceTypeSQLite, Path: dir + "/cloud.db"})

	interval, err := cfg.StatsIntervalDuration()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, interval, test.ShouldEqual, 10*time.Second)

	opts, err := cfg.Cache.Options()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.Eviction, test.ShouldEqual, nodecache.EvictByCount)
	test.That(t, opts.MaxNodes, test.ShouldEqual, 64)
	test.That(t, opts.MaxInFlight, test.ShouldEqual, 4)
	test.That(t, opts.Rand, test.ShouldNotBeNil)
	test.That(t, opts.Rand.Uint64(), test.ShouldEqual, nodecache.NewSeededRand(42).Uint64())

	_, err = Read(filepath.Join(dir, "missing.yaml"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFromReaderDefaults(t *testing.T) {
	cfg, err := FromReader("", strings.NewReader(`{"source": {"type": "remote", "url": "ws://localhost:8080/nodes"}}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Level(), test.ShouldEqual, logging.INFO)

	interval, err := cfg.StatsIntervalDuration()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, interval, test.ShouldEqual, 0)

	opts, err := cfg.Cache.Options()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.Eviction, test.ShouldEqual, nodecache.EvictByBytes)
	test.That(t, opts.MaxBytes, test.ShouldEqual, 0)
	test.That(t, opts.Rand, test.ShouldBeNil)

	cfg, err = FromReader("", strings.NewReader("cache:\n  max_bytes: 64MiB\nsource:\n  type: sqlite\n  path: a.db\n"))
	test.That(t, err, test.ShouldBeNil)
	opts, err = cfg.Cache.Options()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.MaxBytes, test.ShouldEqual, 64<<20)
}

func TestConfigValidation(t *testing.T) {
	for name, tc := range map[string]struct {
		config string
		errMsg string
	}{
		"missing source type": {"cache: {}", `"source"`},
		"unknown source type": {"source: {type: s3}", "unknown source type"},
		"sqlite without path": {"source: {type: sqlite}", `"path"`},
		"remote without url":  {"source: {type: remote}", `"url"`},
		"count without bound": {"cache: {eviction: count}\nsource: {type: sqlite, path: a}", `"max_nodes"`},
		"unknown eviction":    {"cache: {eviction: fifo}\nsource: {type: sqlite, path: a}", "unknown eviction policy"},
		"bad byte size":       {"cache: {max_bytes: lots}\nsource: {type: sqlite, path: a}", "max_bytes"},
		"negative in flight":  {"cache: {max_in_flight: -1}\nsource: {type: sqlite, path: a}", "max_in_flight"},
		"bad log level":       {"log_level: loud\nsource: {type: sqlite, path: a}", "log_level"},
		"bad log pattern":     {"log: [{pattern: 'a..b', level: info}]\nsource: {type: sqlite, path: a}", "invalid pattern"},
		"bad stats interval":  {"stats_interval: often\nsource: {type: sqlite, path: a}", "stats_interval"},
		"unknown field":       {"colour: blue\nsource: {type: sqlite, path: a}", "colour"},
		"malformed yaml":      {"source: [", "decode"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := FromReader("", strings.NewReader(tc.config))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errMsg)
		})
	}
}
