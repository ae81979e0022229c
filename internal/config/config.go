// Package config loads the YAML configuration for the agent service,
// generalizing the teacher's shared/config.YamlConfig (a mutex-guarded,
// file-backed IConfig implementation) to this module's settings and
// completing the fsnotify-driven hot reload the teacher declares as a
// dependency but never wires into a watch loop.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/allenheltondev/momento-a2a-agent/internal/agentcard"
	"github.com/allenheltondev/momento-a2a-agent/pkg/a2a"
)

type yamlSkill struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
	Examples    []string `yaml:"examples"`
}

type yamlDocument struct {
	Server struct {
		ListenAddr  string `yaml:"listen_addr"`
		BasePath    string `yaml:"base_path"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		URL         string `yaml:"url"`
		Version     string `yaml:"version"`
		LogLevel    string `yaml:"log_level"`

		SSL struct {
			Enabled      bool     `yaml:"enabled"`
			Mode         string   `yaml:"mode"`
			CertFile     string   `yaml:"cert_file"`
			KeyFile      string   `yaml:"key_file"`
			AcmeDomains  []string `yaml:"acme_domains"`
			AcmeEmail    string   `yaml:"acme_email"`
			AcmeCacheDir string   `yaml:"acme_cache_dir"`
		} `yaml:"ssl"`

		Capabilities struct {
			Streaming              bool `yaml:"streaming"`
			PushNotifications      bool `yaml:"push_notifications"`
			StateTransitionHistory bool `yaml:"state_transition_history"`
		} `yaml:"capabilities"`

		Throttling struct {
			RPS int `yaml:"rps"`
			RPM int `yaml:"rpm"`
		} `yaml:"throttling"`

		Skills []yamlSkill `yaml:"skills"`
	} `yaml:"server"`

	Cache struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"cache"`
}

// Config is the live, hot-reloadable configuration document. Reads take
// c.mu.RLock(); reload (invoked at load time and on every file-change
// event) takes c.mu.Lock(), matching the teacher's YamlConfig locking
// discipline.
type Config struct {
	mu         sync.RWMutex
	path       string
	logger     *zap.Logger
	watcher    *fsnotify.Watcher
	onChange   func()
	listenAddr string
	basePath   string

	name        string
	description string
	url         string
	version     string
	logLevel    string

	sslEnabled      bool
	sslMode         string
	sslCertFile     string
	sslKeyFile      string
	sslAcmeDomains  []string
	sslAcmeEmail    string
	sslAcmeCacheDir string

	capabilities a2a.AgentCapabilities
	skills       []a2a.AgentSkill

	throttleRPS int
	throttleRPM int

	cacheBaseURL string
	cacheAPIKey  string
}

// Load reads path and applies MOMENTO_API_KEY / MOMENTO_BASE_URL
// environment overrides over the cache credentials, mirroring the
// teacher's env-overrides-file precedent elsewhere in the pack (the
// YAML-first, env-second layering SPEC_FULL.md calls for).
func Load(path string, logger *zap.Logger) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Config{path: path, logger: logger.Named("config")}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read config file %q: %w", c.path, err)
	}

	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w", c.path, err)
	}

	skills := make([]a2a.AgentSkill, 0, len(doc.Server.Skills))
	for _, s := range doc.Server.Skills {
		desc := s.Description
		skills = append(skills, a2a.AgentSkill{
			ID: s.ID, Name: s.Name, Description: &desc, Tags: s.Tags, Examples: s.Examples,
		})
	}

	cacheBaseURL := doc.Cache.BaseURL
	if v := os.Getenv("MOMENTO_BASE_URL"); v != "" {
		cacheBaseURL = v
	}
	cacheAPIKey := doc.Cache.APIKey
	if v := os.Getenv("MOMENTO_API_KEY"); v != "" {
		cacheAPIKey = v
	}

	sslMode := strings.ToLower(doc.Server.SSL.Mode)
	if sslMode != "acme" {
		sslMode = "manual"
	}
	acmeCacheDir := doc.Server.SSL.AcmeCacheDir
	if acmeCacheDir == "" {
		acmeCacheDir = "./.autocert-cache"
	}

	c.mu.Lock()
	c.listenAddr = doc.Server.ListenAddr
	c.basePath = doc.Server.BasePath
	c.name = doc.Server.Name
	c.description = doc.Server.Description
	c.url = doc.Server.URL
	c.version = doc.Server.Version
	c.logLevel = doc.Server.LogLevel
	c.sslEnabled = doc.Server.SSL.Enabled
	c.sslMode = sslMode
	c.sslCertFile = doc.Server.SSL.CertFile
	c.sslKeyFile = doc.Server.SSL.KeyFile
	c.sslAcmeDomains = doc.Server.SSL.AcmeDomains
	c.sslAcmeEmail = doc.Server.SSL.AcmeEmail
	c.sslAcmeCacheDir = acmeCacheDir
	c.capabilities = a2a.AgentCapabilities{
		Streaming:              doc.Server.Capabilities.Streaming,
		PushNotifications:      doc.Server.Capabilities.PushNotifications,
		StateTransitionHistory: doc.Server.Capabilities.StateTransitionHistory,
	}
	c.skills = skills
	c.throttleRPS = doc.Server.Throttling.RPS
	c.throttleRPM = doc.Server.Throttling.RPM
	c.cacheBaseURL = cacheBaseURL
	c.cacheAPIKey = cacheAPIKey
	onChange := c.onChange
	c.mu.Unlock()

	if onChange != nil {
		onChange()
	}
	return nil
}

// Watch starts an fsnotify watcher on the config file and calls reload
// (then onChange, if set) on every write event. Stop with Close.
func (c *Config) Watch(onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(c.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config file %q: %w", c.path, err)
	}

	c.mu.Lock()
	c.watcher = watcher
	c.onChange = onChange
	c.mu.Unlock()

	go c.watchLoop(watcher)
	return nil
}

func (c *Config) watchLoop(watcher *fsnotify.Watcher) {
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			debounce.Reset(100 * time.Millisecond)
		case <-debounce.C:
			if err := c.reload(); err != nil {
				c.logger.Error("failed to reload config", zap.Error(err))
			} else {
				c.logger.Info("config reloaded", zap.String("path", c.path))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Error("config watcher error", zap.Error(err))
		}
	}
}

// Close stops the hot-reload watcher, if one was started.
func (c *Config) Close() error {
	c.mu.RLock()
	watcher := c.watcher
	c.mu.RUnlock()
	if watcher == nil {
		return nil
	}
	return watcher.Close()
}

func (c *Config) ListenAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listenAddr
}

func (c *Config) BasePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.basePath
}

func (c *Config) LogLevel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logLevel
}

func (c *Config) CacheBaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cacheBaseURL
}

func (c *Config) CacheAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cacheAPIKey
}

// Throttle returns the configured per-client requests-per-second and
// requests-per-minute ceilings for the JSON-RPC endpoint. A zero value
// means that limit is disabled.
func (c *Config) Throttle() (rps, rpm int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.throttleRPS, c.throttleRPM
}

// SSLSettings returns the TLS configuration needed to start the HTTP
// listener, grounded on the teacher's http.go StartHTTPServer branch logic.
type SSLSettings struct {
	Enabled      bool
	Mode         string
	CertFile     string
	KeyFile      string
	AcmeDomains  []string
	AcmeEmail    string
	AcmeCacheDir string
}

func (c *Config) SSL() SSLSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return SSLSettings{
		Enabled:      c.sslEnabled,
		Mode:         c.sslMode,
		CertFile:     c.sslCertFile,
		KeyFile:      c.sslKeyFile,
		AcmeDomains:  append([]string(nil), c.sslAcmeDomains...),
		AcmeEmail:    c.sslAcmeEmail,
		AcmeCacheDir: c.sslAcmeCacheDir,
	}
}

// AgentCard builds the static AgentCard this config describes via the
// Agent Card builder, applying its default input/output mode fallback.
func (c *Config) AgentCard() a2a.AgentCard {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return agentcard.Build(agentcard.Params{
		Name: c.name, Description: c.description, URL: c.url, Version: c.version,
		Capabilities: c.capabilities, Skills: c.skills,
	})
}
