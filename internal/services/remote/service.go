// Package remote runs a command on the destination host over SSH once a backup
// has finished, typically to unmount a share or power the host down again.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/zero804/kup/internal/models"
	"golang.org/x/crypto/ssh"
)

// testCommand is run by TestConnection.
const testCommand = "echo OK"

// Service defines the interface for remote command operations.
type Service interface {
	RunCommand(ctx context.Context, cfg models.RemoteConfig) (*models.RemoteResult, error)
	TestConnection(ctx context.Context, cfg models.RemoteConfig) (*models.RemoteResult, error)
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory dials real SSH connections.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &sshClient{client: client}, nil
}

type sshClient struct {
	client *ssh.Client
}

func (c *sshClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (c *sshClient) Close() error {
	return c.client.Close()
}

// Impl implements the remote Service interface.
type Impl struct {
	clientFactory ClientFactory
	fs            afero.Fs
	logger        zerolog.Logger
}

// New creates a new remote command service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		clientFactory: &DefaultClientFactory{},
		fs:            afero.NewOsFs(),
		logger:        logger,
	}
}

// NewWithClientFactory creates a remote service with a custom client factory and filesystem (for testing).
func NewWithClientFactory(logger zerolog.Logger, factory ClientFactory, fs afero.Fs) *Impl {
	return &Impl{
		clientFactory: factory,
		fs:            fs,
		logger:        logger,
	}
}

func (s *Impl) buildConfig(cfg models.RemoteConfig) (*ssh.ClientConfig, error) {
	var key []byte
	var err error

	switch {
	case len(cfg.PrivateKey) > 0:
		key = cfg.PrivateKey
	case cfg.KeyPath != "":
		key, err = afero.ReadFile(s.fs, cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", cfg.KeyPath, err)
		}
	default:
		return nil, errors.New("no private key provided")
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &ssh.ClientConfig{
		User: cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // trusted LAN backup host
		Timeout:         30 * time.Second,
	}, nil
}

// connect dials the host, giving up when ctx is done first.
func (s *Impl) connect(ctx context.Context, cfg models.RemoteConfig) (SSHClient, error) {
	sshConfig, err := s.buildConfig(cfg)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	type dialResult struct {
		client SSHClient
		err    error
	}
	dialed := make(chan dialResult, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		dialed <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-dialed:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect: %w", res.err)
		}
		return res.client, nil
	}
}

func (s *Impl) run(ctx context.Context, cfg models.RemoteConfig, cmd string) (*models.RemoteResult, error) {
	result := &models.RemoteResult{}

	client, err := s.connect(ctx, cfg)
	if err != nil {
		result.Error = err
		return result, nil
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		result.Error = fmt.Errorf("failed to create session: %w", err)
		return result, nil
	}
	defer session.Close()

	s.logger.Debug().Str("command", cmd).Msg("executing remote command")

	output, err := session.CombinedOutput(cmd)
	result.Output = string(output)
	result.CommandRun = true

	if err != nil {
		var exitMissing *ssh.ExitMissingError
		switch {
		case ctx.Err() != nil:
			result.Error = ctx.Err()
		case errors.As(err, &exitMissing):
			// Commands that power the host down drop the connection before reporting an exit status.
			s.logger.Warn().Err(err).Str("output", result.Output).Msg("remote command ended without exit status (may be expected)")
		default:
			result.Error = fmt.Errorf("remote command failed: %w", err)
		}
	}

	return result, nil
}

// RunCommand runs the configured command on the remote host.
func (s *Impl) RunCommand(ctx context.Context, cfg models.RemoteConfig) (*models.RemoteResult, error) {
	s.logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("user", cfg.Username).
		Msg("running remote command")

	if cfg.Command == "" {
		return &models.RemoteResult{Error: errors.New("no remote command configured")}, nil
	}

	result, err := s.run(ctx, cfg, cfg.Command)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Bool("command_run", result.CommandRun).
		Str("output", result.Output).
		Msg("remote command completed")

	return result, nil
}

// TestConnection verifies SSH connectivity without running the configured command.
func (s *Impl) TestConnection(ctx context.Context, cfg models.RemoteConfig) (*models.RemoteResult, error) {
	s.logger.Debug().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Msg("testing SSH connection")

	return s.run(ctx, cfg, testCommand)
}
