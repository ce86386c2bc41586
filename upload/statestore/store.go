// Package statestore persists upload states between processes, so an interrupted
// multipart upload can be resumed by a later run.
package statestore

import (
	"context"
	"errors"

	"github.com/bitrise-io/go-multipart/upload"
)

// ErrNotFound is returned by Load when no state is stored under the key.
var ErrNotFound = errors.New("upload state not found")

// Store saves and restores upload states under caller-chosen keys.
type Store interface {
	Save(ctx context.Context, key string, state *upload.State) error
	Load(ctx context.Context, key string) (*upload.State, error)
	Delete(ctx context.Context, key string) error
}

func decode(data []byte) (*upload.State, error) {
	state := new(upload.State)
	if err := state.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return state, nil
}
