// Package blob persists world blobs, the durable serialized form of a world.
package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aleksaelezovic/worlds/pkg/codec"
)

// ErrNotFound is returned when no blob is stored for a world
var ErrNotFound = errors.New("world blob not found")

// WorldBlob is one world's serialized quads. Data decodes under Format and
// Compression to exactly the quads last committed.
type WorldBlob struct {
	WorldID     string            `json:"worldId"`
	TenantID    string            `json:"tenantId"`
	Data        []byte            `json:"data"`
	Format      codec.Format      `json:"format"`
	Compression codec.Compression `json:"compression"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Info describes a stored blob without its bytes
type Info struct {
	WorldID     string            `json:"worldId"`
	TenantID    string            `json:"tenantId"`
	Format      codec.Format      `json:"format"`
	Compression codec.Compression `json:"compression"`
	Size        int64             `json:"size"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Info returns the metadata of b
func (b *WorldBlob) Info() Info {
	return Info{
		WorldID:     b.WorldID,
		TenantID:    b.TenantID,
		Format:      b.Format,
		Compression: b.Compression,
		Size:        int64(len(b.Data)),
		UpdatedAt:   b.UpdatedAt,
	}
}

// Store persists world blobs. Put replaces the whole blob of a world at
// once; readers never observe a partially written blob.
type Store interface {
	// Get returns the blob of worldID or ErrNotFound
	Get(ctx context.Context, worldID string) (*WorldBlob, error)

	// Put creates or replaces the blob of b.WorldID
	Put(ctx context.Context, b *WorldBlob) error

	// Delete removes the blob of worldID or returns ErrNotFound
	Delete(ctx context.Context, worldID string) error

	// List returns the blobs owned by tenantID ordered by world id. An empty
	// tenantID lists every tenant, ordered by tenant and then world.
	List(ctx context.Context, tenantID string) ([]Info, error)
}

func validate(b *WorldBlob) error {
	if b == nil || b.WorldID == "" || b.TenantID == "" {
		return fmt.Errorf("world blob needs a world id and a tenant id")
	}
	if !b.Format.Decodable() {
		return fmt.Errorf("world blob format %q cannot be read back", b.Format)
	}
	return nil
}
