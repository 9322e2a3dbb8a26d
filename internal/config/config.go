package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mikhailv/proxy-dns/internal/dnsclient"
)

//go:embed config.default.yaml
var defaultConfigYAML []byte

type Config struct {
	Addr     string `yaml:"addr"`
	HTTPAddr string `yaml:"http_addr"`

	History  History  `yaml:"history"`
	Upstream Upstream `yaml:"upstream"`
	MDNS     MDNS     `yaml:"mdns"`
}

type History struct {
	LogSize      int `yaml:"log_size"`
	DNSQuerySize int `yaml:"dns_query_size"`
}

type Upstream struct {
	Host      string              `yaml:"host"`
	Port      uint16              `yaml:"port"`
	Transport dnsclient.Transport `yaml:"transport"`
	Interface string              `yaml:"interface"`

	// Bootstrap is the plain UDP server (ip:port) used to resolve Host when
	// it is a domain name. Empty means the OS stub resolver.
	Bootstrap string `yaml:"bootstrap"`
}

type MDNS struct {
	Addr         string        `yaml:"addr"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	Domains      []string      `yaml:"domains"`
}

func (c *Config) init() {
	c.setDefaults()
}

func (c *Config) setDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = c.Addr
	}
	if c.Upstream.Port == 0 {
		c.Upstream.Port = defaultUpstreamPort(c.Upstream.Transport)
	}
}

func defaultUpstreamPort(transport dnsclient.Transport) uint16 {
	switch transport {
	case dnsclient.TransportDoT:
		return 853
	case dnsclient.TransportDoH:
		return 443
	default:
		return 53
	}
}

func DefaultConfig() *Config {
	cfg := defaultConfig()
	cfg.init()
	return cfg
}

func LoadConfig(file string) (*Config, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg := defaultConfig()
	if err = yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.init()
	return cfg, nil
}

func defaultConfig() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultConfigYAML, &cfg); err != nil {
		panic(fmt.Errorf("failed to load default config: %w", err))
	}
	return &cfg
}
