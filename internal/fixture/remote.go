package fixture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const (
	// DefaultConnectTimeout is the default timeout for establishing SSH connections
	DefaultConnectTimeout = 30 * time.Second
)

// Credentials holds SSH connection details for the artifact host
type Credentials struct {
	Host       string
	Port       int
	User       string
	PrivateKey []byte // PEM-encoded private key
}

// Validate checks that the credentials have all required fields
func (c *Credentials) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.User == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if len(c.PrivateKey) == 0 {
		return fmt.Errorf("private key cannot be empty")
	}
	return nil
}

// Fetcher downloads prepared model artifacts from a remote host over SFTP
type Fetcher struct {
	creds          Credentials
	connectTimeout time.Duration
}

// FetcherOption configures a Fetcher instance
type FetcherOption func(*Fetcher)

// WithConnectTimeout sets the connection timeout
func WithConnectTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.connectTimeout = d
	}
}

// NewFetcher creates a new Fetcher with the given credentials
func NewFetcher(creds Credentials, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		creds:          creds,
		connectTimeout: DefaultConnectTimeout,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// FetchDir downloads every regular file in remoteDir into localDir.
// Subdirectories are skipped; a prepared model directory is flat.
func (f *Fetcher) FetchDir(ctx context.Context, remoteDir, localDir string) error {
	if remoteDir == "" {
		return fmt.Errorf("remote dir cannot be empty")
	}
	if localDir == "" {
		return fmt.Errorf("local dir cannot be empty")
	}

	client, err := f.connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("failed to create sftp client: %w", err)
	}
	defer sftpClient.Close()

	entries, err := sftpClient.ReadDir(remoteDir)
	if err != nil {
		return fmt.Errorf("failed to read remote directory: %w", err)
	}

	if err := os.MkdirAll(localDir, 0755); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		remotePath := sftpClient.Join(remoteDir, entry.Name())
		localPath := filepath.Join(localDir, entry.Name())
		if err := f.download(ctx, sftpClient, remotePath, localPath); err != nil {
			return fmt.Errorf("failed to fetch %s: %w", entry.Name(), err)
		}
	}

	return nil
}

// Download copies a single remote file to the local filesystem
func (f *Fetcher) Download(ctx context.Context, remotePath, localPath string) error {
	if remotePath == "" {
		return fmt.Errorf("remote path cannot be empty")
	}
	if localPath == "" {
		return fmt.Errorf("local path cannot be empty")
	}

	client, err := f.connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("failed to create sftp client: %w", err)
	}
	defer sftpClient.Close()

	localDir := filepath.Dir(localPath)
	if localDir != "" && localDir != "." {
		if err := os.MkdirAll(localDir, 0755); err != nil {
			return fmt.Errorf("failed to create local directory: %w", err)
		}
	}

	return f.download(ctx, sftpClient, remotePath, localPath)
}

// download copies one remote file over an established SFTP session
func (f *Fetcher) download(ctx context.Context, sftpClient *sftp.Client, remotePath, localPath string) error {
	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer remoteFile.Close()

	localFile, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer localFile.Close()

	// Copy with context cancellation support
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(localFile, remoteFile)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			// Clean up partial file on error
			localFile.Close()
			os.Remove(localPath)
			return fmt.Errorf("failed to copy file: %w", err)
		}
		return nil
	case <-ctx.Done():
		// Clean up partial file on cancellation
		localFile.Close()
		os.Remove(localPath)
		return fmt.Errorf("download cancelled: %w", ctx.Err())
	}
}

// RemoteFileExists checks if a file exists on the artifact host
func (f *Fetcher) RemoteFileExists(ctx context.Context, remotePath string) (bool, error) {
	if remotePath == "" {
		return false, fmt.Errorf("remote path cannot be empty")
	}

	client, err := f.connect(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return false, fmt.Errorf("failed to create sftp client: %w", err)
	}
	defer sftpClient.Close()

	_, err = sftpClient.Stat(remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat remote file: %w", err)
	}

	return true, nil
}

// connect establishes an SSH connection to the artifact host
func (f *Fetcher) connect(ctx context.Context) (*ssh.Client, error) {
	if err := f.creds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(f.creds.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	config := &ssh.ClientConfig{
		User: f.creds.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // Artifact hosts are short-lived CI machines
		Timeout:         f.connectTimeout,
	}

	addr := fmt.Sprintf("%s:%d", f.creds.Host, f.creds.Port)

	// Check context before attempting connection
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	return client, nil
}
