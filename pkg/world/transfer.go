package world

import (
	"context"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aleksaelezovic/worlds/pkg/blob"
	"github.com/aleksaelezovic/worlds/pkg/codec"
	"github.com/aleksaelezovic/worlds/pkg/ratelimit"
	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/store"
	"github.com/aleksaelezovic/worlds/pkg/usage"
)

// ImportRequest replaces the contents of a world with a serialized dataset
type ImportRequest struct {
	TenantID    string
	Plan        string
	WorldID     string
	Body        io.Reader
	Format      codec.Format
	Compression codec.Compression
}

// ImportResult describes the world after an import
type ImportResult struct {
	Info blob.Info
	// Changed is false when the dataset was isomorphic to the stored one
	Changed   bool
	Quads     int
	RateLimit ratelimit.Result
}

// Import replaces a world's quads, creating the world when needed. A
// dataset isomorphic to the current contents commits nothing.
func (s *Service) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	start := time.Now()
	res, err := s.importWorld(ctx, req)
	s.deps.Metrics.observeRequest("import", start, err)
	return res, err
}

func (s *Service) importWorld(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if err := authorize(req.TenantID, req.WorldID); err != nil {
		return nil, err
	}
	rl, err := s.consume(ctx, req.TenantID, req.Plan, req.WorldID, ratelimit.ResourceBlobWrite)
	if err != nil {
		return nil, err
	}

	quads, err := codec.DecodeFrom(req.Body, req.Format, req.Compression)
	if err != nil {
		return nil, Classify(err)
	}
	if err := s.checkPlan(req.Plan, len(quads)); err != nil {
		return nil, err
	}

	res, err := runLocked(ctx, s, req.WorldID, true, func(ctx context.Context, r *run) (*ImportResult, error) {
		current, err := s.load(ctx, req.TenantID, req.WorldID, true)
		if err != nil {
			return nil, err
		}
		if current.blob != nil && rdf.AreQuadsIsomorphic(current.quads, quads) {
			return &ImportResult{Info: current.blob.Info(), Quads: len(current.quads)}, nil
		}

		base := store.NewMemoryStore(current.quads...)
		intercepted := store.NewInterceptor(base, store.NewPatchQueue())
		intercepted.RemoveMatching(nil, nil, nil, nil)
		intercepted.AddMany(quads)

		b, err := s.commit(ctx, r, req.TenantID, req.WorldID, current.quads, base.Quads(), intercepted.Queue().Flush())
		if err != nil {
			return nil, err
		}
		return &ImportResult{Info: b.Info(), Changed: true, Quads: base.Size()}, nil
	})
	if err != nil {
		return nil, Classify(err)
	}

	res.RateLimit = rl
	s.log.WithFields(log.Fields{"tenant": req.TenantID, "world": req.WorldID, "quads": res.Quads, "changed": res.Changed}).Info("world imported")
	s.record(ctx, usage.Event{TenantID: req.TenantID, WorldID: req.WorldID, Kind: usage.KindImport, Units: res.Info.Size})
	return res, nil
}

// ExportRequest asks for a world serialized in a format
type ExportRequest struct {
	TenantID    string
	Plan        string
	WorldID     string
	Format      codec.Format
	Compression codec.Compression
}

// ExportResult is a serialized world
type ExportResult struct {
	Data        []byte
	Format      codec.Format
	Compression codec.Compression
	RateLimit   ratelimit.Result
}

// Export serializes a world. The stored bytes are returned as they are when
// they already have the requested format and compression.
func (s *Service) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	start := time.Now()
	res, err := s.export(ctx, req)
	s.deps.Metrics.observeRequest("export", start, err)
	return res, err
}

func (s *Service) export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	if err := authorize(req.TenantID, req.WorldID); err != nil {
		return nil, err
	}
	if req.Format == "" {
		req.Format = codec.FormatNQuads
	}
	if req.Compression == "" {
		req.Compression = codec.CompressionNone
	}
	if !req.Format.Encodable() {
		return nil, &UnsupportedError{Msg: "format " + string(req.Format)}
	}
	rl, err := s.consume(ctx, req.TenantID, req.Plan, req.WorldID, ratelimit.ResourceBlobRead)
	if err != nil {
		return nil, err
	}

	data, err := runLocked(ctx, s, req.WorldID, false, func(ctx context.Context, _ *run) ([]byte, error) {
		current, err := s.loadShared(ctx, req.TenantID, req.WorldID)
		if err != nil {
			return nil, err
		}
		if current.blob.Format == req.Format && current.blob.Compression == req.Compression {
			return current.blob.Data, nil
		}
		return codec.Encode(current.quads, req.Format, req.Compression)
	})
	if err != nil {
		return nil, Classify(err)
	}

	s.record(ctx, usage.Event{TenantID: req.TenantID, WorldID: req.WorldID, Kind: usage.KindExport, Units: int64(len(data))})
	return &ExportResult{Data: data, Format: req.Format, Compression: req.Compression, RateLimit: rl}, nil
}
