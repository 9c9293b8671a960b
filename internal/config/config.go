package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/leonunix/esquery/internal/condition"
	"github.com/leonunix/esquery/internal/cursor"
	"github.com/leonunix/esquery/internal/transport"
	"github.com/leonunix/esquery/internal/util"
)

// Config holds the complete application configuration.
type Config struct {
	Elasticsearch ElasticsearchConfig `koanf:"elasticsearch"`
	Scroll        ScrollConfig        `koanf:"scroll"`
	Export        ExportConfig        `koanf:"export"`
	Reindex       ReindexConfig       `koanf:"reindex"`
	Logging       LoggingConfig       `koanf:"logging"`
}

type ElasticsearchConfig struct {
	Nodes             []NodeConfig  `koanf:"nodes"`
	Username          string        `koanf:"username"`
	Password          string        `koanf:"password"`
	DefaultProtocol   string        `koanf:"default_protocol"`
	AutodetectCluster bool          `koanf:"autodetect_cluster"`
	ConnectTimeout    time.Duration `koanf:"connect_timeout"`
	DataTimeout       time.Duration `koanf:"data_timeout"`
	// EngineVersion is the cluster's major version. 0 means current.
	EngineVersion int       `koanf:"engine_version"`
	TLS           TLSConfig `koanf:"tls"`
}

// NodeConfig describes one seed node. Username/Password override the
// connection credentials; DisableAuth sends no credentials at all.
type NodeConfig struct {
	Address     string `koanf:"address"`
	Protocol    string `koanf:"protocol"`
	Username    string `koanf:"username"`
	Password    string `koanf:"password"`
	DisableAuth bool   `koanf:"disable_auth"`
}

type ScrollConfig struct {
	Window    string `koanf:"window"`     // Engine time unit, e.g. "1m".
	BatchSize int    `koanf:"batch_size"` // Hits per scroll page.
}

type ExportConfig struct {
	Index    []string `koanf:"index"`
	Where    any      `koanf:"where"`
	Fields   []string `koanf:"fields"`
	Output   string   `koanf:"output"` // File path, "-" for stdout.
	Progress bool     `koanf:"progress"`
}

type ReindexConfig struct {
	Schedule     string        `koanf:"schedule"`
	LockIndex    string        `koanf:"lock_index"`
	MetricsIndex string        `koanf:"metrics_index"`
	LockTTL      time.Duration `koanf:"lock_ttl"`
	Jobs         []JobConfig   `koanf:"jobs"`
}

type JobConfig struct {
	Name        string   `koanf:"name"`
	SourceIndex []string `koanf:"source_index"`
	Where       any      `koanf:"where"`
	TargetIndex string   `koanf:"target_index"`
	BatchSize   int      `koanf:"batch_size"`
	DeleteAfter bool     `koanf:"delete_after"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // text or json
}

// Load reads configuration from the given YAML file path.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Condition parses the export filter.
func (e ExportConfig) Condition() (condition.Condition, error) {
	return condition.Parse(e.Where)
}

// Condition parses the job's source filter.
func (j JobConfig) Condition() (condition.Condition, error) {
	return condition.Parse(j.Where)
}

// TransportOptions converts the elasticsearch section into connection
// options.
func (e ElasticsearchConfig) TransportOptions() (transport.Options, error) {
	opts := transport.Options{
		DefaultProtocol:   e.DefaultProtocol,
		AutodetectCluster: e.AutodetectCluster,
		ConnectTimeout:    e.ConnectTimeout,
		DataTimeout:       e.DataTimeout,
	}
	if e.Username != "" || e.Password != "" {
		opts.Auth = &transport.Credentials{Username: e.Username, Password: e.Password}
	}
	for _, n := range e.Nodes {
		node := transport.Node{Address: n.Address, Protocol: n.Protocol}
		switch {
		case n.DisableAuth:
			node.Auth = transport.NoAuth
		case n.Username != "" || n.Password != "":
			node.Auth = &transport.Credentials{Username: n.Username, Password: n.Password}
		}
		opts.Nodes = append(opts.Nodes, node)
	}

	tlsConf, err := e.TLS.ClientConfig()
	if err != nil {
		return transport.Options{}, err
	}
	opts.TLS = tlsConf
	return opts, nil
}

func setDefaults(cfg *Config) {
	if cfg.Elasticsearch.DefaultProtocol == "" {
		cfg.Elasticsearch.DefaultProtocol = transport.ProtocolHTTP
	}
	if cfg.Elasticsearch.ConnectTimeout <= 0 {
		cfg.Elasticsearch.ConnectTimeout = 10 * time.Second
	}
	if cfg.Elasticsearch.DataTimeout <= 0 {
		cfg.Elasticsearch.DataTimeout = 60 * time.Second
	}
	if cfg.Scroll.Window == "" {
		cfg.Scroll.Window = cursor.DefaultWindow
	}
	if cfg.Scroll.BatchSize <= 0 {
		cfg.Scroll.BatchSize = 1000
	}
	if cfg.Export.Output == "" {
		cfg.Export.Output = "-"
	}
	if cfg.Reindex.Schedule == "" {
		cfg.Reindex.Schedule = "0 2 * * *"
	}
	if cfg.Reindex.LockIndex == "" {
		cfg.Reindex.LockIndex = ".esquery-locks"
	}
	if cfg.Reindex.MetricsIndex == "" {
		cfg.Reindex.MetricsIndex = ".esquery-metrics"
	}
	if cfg.Reindex.LockTTL <= 0 {
		cfg.Reindex.LockTTL = time.Hour
	}
	for i := range cfg.Reindex.Jobs {
		if cfg.Reindex.Jobs[i].BatchSize <= 0 {
			cfg.Reindex.Jobs[i].BatchSize = cfg.Scroll.BatchSize
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func validate(cfg *Config) error {
	es := cfg.Elasticsearch
	if len(es.Nodes) == 0 {
		return fmt.Errorf("elasticsearch.nodes requires at least one node")
	}
	for i, n := range es.Nodes {
		if n.Address == "" {
			return fmt.Errorf("elasticsearch.nodes[%d].address is required", i)
		}
	}
	if es.EngineVersion < 0 {
		return fmt.Errorf("elasticsearch.engine_version must not be negative")
	}

	if _, err := util.ParseTimeUnit(cfg.Scroll.Window); err != nil {
		return fmt.Errorf("invalid scroll.window: %w", err)
	}

	if _, err := cfg.Export.Condition(); err != nil {
		return fmt.Errorf("invalid export.where: %w", err)
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", cfg.Logging.Format)
	}

	seen := make(map[string]bool, len(cfg.Reindex.Jobs))
	for i, job := range cfg.Reindex.Jobs {
		if job.Name == "" {
			return fmt.Errorf("reindex.jobs[%d].name is required", i)
		}
		if seen[job.Name] {
			return fmt.Errorf("reindex job %q is defined twice", job.Name)
		}
		seen[job.Name] = true
		if len(job.SourceIndex) == 0 {
			return fmt.Errorf("reindex job %q: source_index is required", job.Name)
		}
		if job.TargetIndex == "" {
			return fmt.Errorf("reindex job %q: target_index is required", job.Name)
		}
		if _, err := job.Condition(); err != nil {
			return fmt.Errorf("reindex job %q: invalid where: %w", job.Name, err)
		}
	}

	return nil
}
