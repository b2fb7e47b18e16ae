// Package config provides configuration file parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/zero804/kup/internal/models"
	"github.com/zero804/kup/internal/services/bup"
	"github.com/zero804/kup/internal/services/job"
)

// defaultPlanName names the plan, and its log file, when the config does not.
const defaultPlanName = "default"

// Parser handles configuration file parsing.
type Parser struct {
	v        *viper.Viper
	cacheDir func() (string, error)
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v, cacheDir: os.UserCacheDir}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.BackupConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.BackupConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.BackupConfig, error) {
	cfg := &models.BackupConfig{}

	// Parse the backup plan (paths required).
	cfg.Plan = models.BackupPlan{
		Name:                 p.v.GetString("plan.name"),
		PathsIncluded:        p.expandAll(p.v.GetStringSlice("plan.paths_included")),
		PathsExcluded:        p.expandAll(p.v.GetStringSlice("plan.paths_excluded")),
		ExcludePatternsFile:  p.expandEnv(p.v.GetString("plan.exclude_patterns_file")),
		VerifyIntegrity:      p.v.GetBool("plan.verify_integrity"),
		GenerateRecoveryInfo: p.v.GetBool("plan.generate_recovery_info"),
	}

	if len(cfg.Plan.PathsIncluded) == 0 {
		return nil, errors.New("plan.paths_included is required")
	}
	if cfg.Plan.Name == "" {
		cfg.Plan.Name = defaultPlanName
	}

	// Parse destination (required).
	cfg.Destination = models.DestinationSettings{
		Path:    p.expandEnv(p.v.GetString("destination.path")),
		LogFile: p.expandEnv(p.v.GetString("destination.log_file")),
	}

	if cfg.Destination.Path == "" {
		return nil, errors.New("destination.path is required")
	}
	if cfg.Destination.LogFile == "" {
		logFile, err := p.defaultLogFile(cfg.Plan.Name)
		if err != nil {
			return nil, err
		}
		cfg.Destination.LogFile = logFile
	}

	// Parse tool settings.
	cfg.Tools = models.ToolSettings{
		Bup:                   p.expandEnv(p.v.GetString("tools.bup")),
		SnapshotName:          p.v.GetString("tools.snapshot_name"),
		HarmlessErrorPrefixes: p.v.GetStringSlice("tools.harmless_error_prefixes"),
	}

	if cfg.Tools.Bup == "" {
		cfg.Tools.Bup = bup.DefaultExecutable
	}
	if cfg.Tools.SnapshotName == "" {
		cfg.Tools.SnapshotName = bup.DefaultSnapshotName
	}
	if len(cfg.Tools.HarmlessErrorPrefixes) == 0 {
		cfg.Tools.HarmlessErrorPrefixes = append([]string(nil), bup.DefaultHarmlessPrefixes...)
	}

	// Parse progress settings.
	cfg.Progress = models.ProgressSettings{
		Interval: p.v.GetDuration("progress.interval"),
	}

	if cfg.Progress.Interval < 0 {
		return nil, errors.New("progress.interval must not be negative")
	}
	if cfg.Progress.Interval == 0 {
		cfg.Progress.Interval = job.DefaultProgressInterval
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString("wol.mac_address"),
			BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
			Timeout:       p.v.GetDuration("wol.timeout"),
			PollInterval:  p.v.GetDuration("wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, errors.New("wol.mac_address is required when wol is configured")
		}

		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
		if cfg.WOL.StabilizeWait == 0 {
			cfg.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional remote command config.
	if p.v.IsSet("remote") { //nolint:nestif // config parsing with defaults
		cfg.Remote = &models.RemoteConfig{
			Host:      p.v.GetString("remote.host"),
			Port:      p.v.GetInt("remote.port"),
			Username:  p.v.GetString("remote.username"),
			KeyPath:   p.expandEnv(p.v.GetString("remote.key_path")),
			Command:   p.v.GetString("remote.command"),
			OnFailure: p.v.GetBool("remote.on_failure"),
		}

		if cfg.Remote.Host == "" {
			return nil, errors.New("remote.host is required when remote is configured")
		}
		if cfg.Remote.Port == 0 {
			cfg.Remote.Port = 22
		}
		if cfg.Remote.Username == "" {
			cfg.Remote.Username = "root"
		}
		if cfg.Remote.KeyPath == "" {
			return nil, errors.New("remote.key_path is required when remote is configured")
		}
		if cfg.Remote.Command == "" {
			return nil, errors.New("remote.command is required when remote is configured")
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, errors.New("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, errors.New("telegram.chat_id is required when telegram is configured")
		}
	}

	return cfg, nil
}

// defaultLogFile places the run log of a plan in the user's cache directory.
func (p *Parser) defaultLogFile(plan string) (string, error) {
	dir, err := p.cacheDir()
	if err != nil {
		return "", fmt.Errorf("destination.log_file is not set and no cache directory is available: %w", err)
	}
	name := strings.NewReplacer("/", "_", `\`, "_").Replace(plan)
	return filepath.Join(dir, "kup", name+".log"), nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

func (p *Parser) expandAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, p.expandEnv(s))
	}
	return out
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.BackupConfig) error {
	if cfg == nil {
		return errors.New("configuration is nil")
	}

	if len(cfg.Plan.PathsIncluded) == 0 {
		return errors.New("plan.paths_included is required")
	}

	for _, path := range cfg.Plan.PathsIncluded {
		if path == "" {
			return errors.New("plan.paths_included must not contain empty paths")
		}
	}

	if cfg.Destination.Path == "" {
		return errors.New("destination.path is required")
	}

	if cfg.Destination.LogFile == "" {
		return errors.New("destination.log_file is required")
	}

	return nil
}
