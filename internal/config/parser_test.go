package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zero804/kup/internal/models"
)

const minimalYAML = `
plan:
  paths_included:
    - /home/user
destination:
  path: /mnt/backup/kup
`

func newTestParser() *Parser {
	p := NewParser()
	p.cacheDir = func() (string, error) { return "/home/user/.cache", nil }
	return p
}

func TestParser_LoadReader_MinimalConfig(t *testing.T) {
	cfg, err := newTestParser().LoadReader(minimalYAML)

	require.NoError(t, err)
	assert.Equal(t, []string{"/home/user"}, cfg.Plan.PathsIncluded)
	assert.Equal(t, "/mnt/backup/kup", cfg.Destination.Path)

	// Check defaults
	assert.Equal(t, "default", cfg.Plan.Name)
	assert.Empty(t, cfg.Plan.PathsExcluded)
	assert.False(t, cfg.Plan.VerifyIntegrity)
	assert.False(t, cfg.Plan.GenerateRecoveryInfo)
	assert.Equal(t, "/home/user/.cache/kup/default.log", cfg.Destination.LogFile)
	assert.Equal(t, "bup", cfg.Tools.Bup)
	assert.Equal(t, "kup", cfg.Tools.SnapshotName)
	assert.Equal(t, []string{"[Errno 2]"}, cfg.Tools.HarmlessErrorPrefixes)
	assert.Equal(t, 200*time.Millisecond, cfg.Progress.Interval)
	assert.Nil(t, cfg.WOL)
	assert.Nil(t, cfg.Remote)
	assert.Nil(t, cfg.Telegram)
}

func TestParser_LoadReader_FullConfig(t *testing.T) {
	yaml := `
plan:
  name: laptop
  paths_included:
    - /home/user
    - /etc
  paths_excluded:
    - /home/user/.cache
  exclude_patterns_file: /home/user/.config/kup/excludes
  verify_integrity: true
  generate_recovery_info: true

destination:
  path: /mnt/nas/kup
  log_file: /var/log/kup/laptop.log

tools:
  bup: /opt/bup/bin/bup
  snapshot_name: laptop
  harmless_error_prefixes:
    - "[Errno 2]"
    - "[Errno 6]"

progress:
  interval: 1s

wol:
  mac_address: "AA:BB:CC:DD:EE:FF"
  broadcast_ip: "192.168.1.255"
  timeout: 10m
  poll_interval: 5s
  stabilize_wait: 15s

remote:
  host: "192.168.1.100"
  port: 2222
  username: backup
  key_path: /home/user/.ssh/id_ed25519
  command: "sudo shutdown -h +1"
  on_failure: true

telegram:
  bot_token: "123456:ABC"
  chat_id: "-100123456789"
`
	cfg, err := newTestParser().LoadReader(yaml)

	require.NoError(t, err)

	// Plan
	assert.Equal(t, "laptop", cfg.Plan.Name)
	assert.Equal(t, []string{"/home/user", "/etc"}, cfg.Plan.PathsIncluded)
	assert.Equal(t, []string{"/home/user/.cache"}, cfg.Plan.PathsExcluded)
	assert.Equal(t, "/home/user/.config/kup/excludes", cfg.Plan.ExcludePatternsFile)
	assert.True(t, cfg.Plan.VerifyIntegrity)
	assert.True(t, cfg.Plan.GenerateRecoveryInfo)

	// Destination
	assert.Equal(t, "/mnt/nas/kup", cfg.Destination.Path)
	assert.Equal(t, "/var/log/kup/laptop.log", cfg.Destination.LogFile)

	// Tools and progress
	assert.Equal(t, "/opt/bup/bin/bup", cfg.Tools.Bup)
	assert.Equal(t, "laptop", cfg.Tools.SnapshotName)
	assert.Equal(t, []string{"[Errno 2]", "[Errno 6]"}, cfg.Tools.HarmlessErrorPrefixes)
	assert.Equal(t, time.Second, cfg.Progress.Interval)

	// WOL
	require.NotNil(t, cfg.WOL)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.WOL.MACAddress)
	assert.Equal(t, "192.168.1.255", cfg.WOL.BroadcastIP)
	assert.Equal(t, 10*time.Minute, cfg.WOL.Timeout)
	assert.Equal(t, 5*time.Second, cfg.WOL.PollInterval)
	assert.Equal(t, 15*time.Second, cfg.WOL.StabilizeWait)

	// Remote
	require.NotNil(t, cfg.Remote)
	assert.Equal(t, "192.168.1.100", cfg.Remote.Host)
	assert.Equal(t, 2222, cfg.Remote.Port)
	assert.Equal(t, "backup", cfg.Remote.Username)
	assert.Equal(t, "/home/user/.ssh/id_ed25519", cfg.Remote.KeyPath)
	assert.Equal(t, "sudo shutdown -h +1", cfg.Remote.Command)
	assert.True(t, cfg.Remote.OnFailure)

	// Telegram
	require.NotNil(t, cfg.Telegram)
	assert.Equal(t, "123456:ABC", cfg.Telegram.BotToken)
	assert.Equal(t, "-100123456789", cfg.Telegram.ChatID)
}

func TestParser_LoadReader_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_KUP_HOME", "/home/tester")
	t.Setenv("TEST_KUP_DEST", "/mnt/usb")
	t.Setenv("TEST_KUP_TOKEN", "env_token")

	yaml := `
plan:
  paths_included:
    - ${TEST_KUP_HOME}/docs
  paths_excluded:
    - $TEST_KUP_HOME/docs/tmp
  exclude_patterns_file: ${TEST_KUP_HOME}/.kup-excludes
destination:
  path: ${TEST_KUP_DEST}/kup
  log_file: ${TEST_KUP_HOME}/kup.log
telegram:
  bot_token: "${TEST_KUP_TOKEN}"
  chat_id: "42"
`
	cfg, err := newTestParser().LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, []string{"/home/tester/docs"}, cfg.Plan.PathsIncluded)
	assert.Equal(t, []string{"/home/tester/docs/tmp"}, cfg.Plan.PathsExcluded)
	assert.Equal(t, "/home/tester/.kup-excludes", cfg.Plan.ExcludePatternsFile)
	assert.Equal(t, "/mnt/usb/kup", cfg.Destination.Path)
	assert.Equal(t, "/home/tester/kup.log", cfg.Destination.LogFile)
	assert.Equal(t, "env_token", cfg.Telegram.BotToken)
}

func TestParser_LoadReader_RequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{
			name: "missing paths",
			yaml: `
destination:
  path: /mnt/backup
`,
			errMsg: "plan.paths_included is required",
		},
		{
			name: "missing destination",
			yaml: `
plan:
  paths_included: [/home/user]
`,
			errMsg: "destination.path is required",
		},
		{
			name:   "wol without mac address",
			yaml:   minimalYAML + "wol:\n  broadcast_ip: 192.168.1.255\n",
			errMsg: "wol.mac_address is required",
		},
		{
			name:   "remote without host",
			yaml:   minimalYAML + "remote:\n  key_path: /k\n  command: \"true\"\n",
			errMsg: "remote.host is required",
		},
		{
			name:   "remote without key path",
			yaml:   minimalYAML + "remote:\n  host: nas\n  command: \"true\"\n",
			errMsg: "remote.key_path is required",
		},
		{
			name:   "remote without command",
			yaml:   minimalYAML + "remote:\n  host: nas\n  key_path: /k\n",
			errMsg: "remote.command is required",
		},
		{
			name:   "telegram without bot token",
			yaml:   minimalYAML + "telegram:\n  chat_id: \"42\"\n",
			errMsg: "telegram.bot_token is required",
		},
		{
			name:   "telegram without chat id",
			yaml:   minimalYAML + "telegram:\n  bot_token: \"t\"\n",
			errMsg: "telegram.chat_id is required",
		},
		{
			name:   "negative progress interval",
			yaml:   minimalYAML + "progress:\n  interval: -1s\n",
			errMsg: "progress.interval must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestParser().LoadReader(tt.yaml)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParser_LoadReader_WOL_Defaults(t *testing.T) {
	yaml := minimalYAML + `
wol:
  mac_address: "AA:BB:CC:DD:EE:FF"
`
	cfg, err := newTestParser().LoadReader(yaml)

	require.NoError(t, err)
	require.NotNil(t, cfg.WOL)
	assert.Equal(t, "255.255.255.255", cfg.WOL.BroadcastIP)
	assert.Equal(t, 5*time.Minute, cfg.WOL.Timeout)
	assert.Equal(t, 10*time.Second, cfg.WOL.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.WOL.StabilizeWait)
}

func TestParser_LoadReader_Remote_Defaults(t *testing.T) {
	yaml := minimalYAML + `
remote:
  host: nas
  key_path: /home/user/.ssh/id_ed25519
  command: sudo umount /srv/kup
`
	cfg, err := newTestParser().LoadReader(yaml)

	require.NoError(t, err)
	require.NotNil(t, cfg.Remote)
	assert.Equal(t, 22, cfg.Remote.Port)
	assert.Equal(t, "root", cfg.Remote.Username)
	assert.False(t, cfg.Remote.OnFailure)
}

func TestParser_LoadReader_DefaultLogFile(t *testing.T) {
	t.Run("named after the plan", func(t *testing.T) {
		yaml := `
plan:
  name: laptop
  paths_included: [/home/user]
destination:
  path: /mnt/backup
  log_file: ""
`
		cfg, err := newTestParser().LoadReader(yaml)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/home/user/.cache", "kup", "laptop.log"), cfg.Destination.LogFile)
	})

	t.Run("separators in the plan name", func(t *testing.T) {
		yaml := `
plan:
  name: home/user
  paths_included: [/home/user]
destination:
  path: /mnt/backup
`
		cfg, err := newTestParser().LoadReader(yaml)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/home/user/.cache", "kup", "home_user.log"), cfg.Destination.LogFile)
	})

	t.Run("no cache directory", func(t *testing.T) {
		p := NewParser()
		p.cacheDir = func() (string, error) { return "", errors.New("$HOME is not defined") }

		_, err := p.LoadReader(minimalYAML)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "destination.log_file is not set")
	})
}

func TestParser_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	cfg, err := newTestParser().LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, "/mnt/backup/kup", cfg.Destination.Path)
}

func TestParser_LoadFile_NotFound(t *testing.T) {
	_, err := newTestParser().LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestValidate(t *testing.T) {
	valid := func() *models.BackupConfig {
		return &models.BackupConfig{
			Plan:        models.BackupPlan{PathsIncluded: []string{"/home/user"}},
			Destination: models.DestinationSettings{Path: "/mnt/backup", LogFile: "/tmp/kup.log"},
		}
	}

	tests := []struct {
		name    string
		cfg     func() *models.BackupConfig
		wantErr bool
		errMsg  string
	}{
		{
			name:    "nil config",
			cfg:     func() *models.BackupConfig { return nil },
			wantErr: true,
			errMsg:  "configuration is nil",
		},
		{
			name: "missing paths",
			cfg: func() *models.BackupConfig {
				c := valid()
				c.Plan.PathsIncluded = nil
				return c
			},
			wantErr: true,
			errMsg:  "plan.paths_included is required",
		},
		{
			name: "empty path",
			cfg: func() *models.BackupConfig {
				c := valid()
				c.Plan.PathsIncluded = []string{"/home/user", ""}
				return c
			},
			wantErr: true,
			errMsg:  "must not contain empty paths",
		},
		{
			name: "missing destination",
			cfg: func() *models.BackupConfig {
				c := valid()
				c.Destination.Path = ""
				return c
			},
			wantErr: true,
			errMsg:  "destination.path is required",
		},
		{
			name: "missing log file",
			cfg: func() *models.BackupConfig {
				c := valid()
				c.Destination.LogFile = ""
				return c
			},
			wantErr: true,
			errMsg:  "destination.log_file is required",
		},
		{
			name:    "valid config",
			cfg:     valid,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg())
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
