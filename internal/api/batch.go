package api

import (
	"context"
	"errors"
	"sync"
)

// ErrNoRemoteSession is returned when a batch has nothing uploaded yet.
var ErrNoRemoteSession = errors.New("no logs were uploaded to the parser")

// Batch uploads a set of files into one remote session. The remote session is
// created by the first upload and reused by every later one.
type Batch struct {
	client *Client

	mu     sync.Mutex
	remote *RemoteSession
	token  string
}

// NewBatch returns an empty batch.
func (c *Client) NewBatch() *Batch {
	return &Batch{client: c}
}

// Upload sends one file into the batch, opening the remote session if needed.
func (b *Batch) Upload(ctx context.Context, path, token string) (*UploadResult, error) {
	remote, err := b.open(ctx, token)
	if err != nil {
		return nil, err
	}
	return b.client.Upload(ctx, remote.ID, path, token)
}

// open creates the remote session once. Concurrent uploads wait for it; a
// failed attempt leaves the batch closed so the next upload tries again.
func (b *Batch) open(ctx context.Context, token string) (RemoteSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.remote != nil {
		return *b.remote, nil
	}
	remote, err := b.client.CreateSession(ctx, token)
	if err != nil {
		return RemoteSession{}, err
	}
	b.remote = remote
	b.token = token
	return *remote, nil
}

// Remote returns the remote session once one was opened.
func (b *Batch) Remote() (RemoteSession, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remote == nil {
		return RemoteSession{}, false
	}
	return *b.remote, true
}

// StartProcessing asks the parser to build reports for the batch.
func (b *Batch) StartProcessing(ctx context.Context, opts ProcessOptions) (string, error) {
	b.mu.Lock()
	remote, token := b.remote, b.token
	b.mu.Unlock()

	if remote == nil {
		return "", ErrNoRemoteSession
	}
	return b.client.StartProcessing(ctx, *remote, token, opts)
}

// Status polls the batch's processing state.
func (b *Batch) Status(ctx context.Context) (*ProcessStatus, error) {
	remote, ok := b.Remote()
	if !ok {
		return nil, ErrNoRemoteSession
	}
	return b.client.Status(ctx, remote.ID)
}
