package models

// RemoteConfig holds the SSH command run on the destination host after a backup.
type RemoteConfig struct {
	Host       string
	Port       int
	Username   string
	PrivateKey []byte // loaded from KeyPath
	KeyPath    string
	Command    string // e.g. "sudo shutdown -h +1"
	OnFailure  bool   // also run the command when the backup failed
}

// RemoteResult holds the result of a remote command.
type RemoteResult struct {
	CommandRun bool
	Output     string
	Error      error
}
