package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/sftp"
)

// remoteStageDir is where staged files land on every host.
const remoteStageDir = "/tmp"

// Transfer stages the given local files into the host's staging directory
// via SFTP. Any failure aborts the remaining files.
func (e *Executor) Transfer(ctx context.Context, files []string, cluster, host string) error {
	conn, err := e.dial(ctx, cluster, host)
	if err != nil {
		return &TransferError{Host: host, Err: err}
	}
	defer conn.Close()

	sf, err := sftp.NewClient(conn.client)
	if err != nil {
		return &TransferError{Host: host, Err: fmt.Errorf("sftp client: %w", err)}
	}
	defer sf.Close()

	for _, file := range files {
		remotePath := remoteStageDir + "/" + filepath.Base(file)
		e.Run.Detail.Debug().Str("host", host).Str("file", file).Str("remote", remotePath).Msg("staging file")
		if err := pushFile(sf, file, remotePath); err != nil {
			return &TransferError{Host: host, Err: fmt.Errorf("stage %s: %w", file, err)}
		}
	}
	return nil
}

func pushFile(sf *sftp.Client, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local: %w", err)
	}
	defer src.Close()
	dst, err := sf.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copy: %w", err)
	}
	return dst.Close()
}
