package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/aleksaelezovic/worlds/pkg/codec"
	"github.com/aleksaelezovic/worlds/pkg/server"
	"github.com/aleksaelezovic/worlds/pkg/sparql"
	"github.com/aleksaelezovic/worlds/pkg/sparql/results"
	"github.com/aleksaelezovic/worlds/pkg/world"
)

func (r *WorldsRunner) serve(ctx context.Context, svc *world.Service, reg *prometheus.Registry) error {
	if !r.args.Serve.NoRebuild {
		report, err := svc.RebuildIndexes(ctx)
		if err != nil {
			return err
		}
		for worldID, err := range report.Failed {
			log.WithError(err).WithField("world", worldID).Warn("world will be indexed on first search")
		}
	}
	return server.NewServer(svc, server.WithGatherer(reg)).ListenAndServe(ctx, r.args.Serve.Addr)
}

func (r *WorldsRunner) query(ctx context.Context, svc *world.Service) error {
	cmd := r.args.Query
	resp, err := svc.Execute(ctx, world.Request{TenantID: r.args.Tenant, Plan: r.args.Plan, WorldID: cmd.World, Query: cmd.Query})
	if err != nil {
		return err
	}
	if resp.Result.Kind == sparql.KindVoid {
		log.WithField("world", cmd.World).Info("update applied")
		return nil
	}
	return results.Negotiate(cmd.Accept, resp.Result.Kind).Write(r.stdout, resp.Result)
}

func (r *WorldsRunner) search(ctx context.Context, svc *world.Service) error {
	cmd := r.args.Search
	resp, err := svc.Search(ctx, world.SearchRequest{TenantID: r.args.Tenant, Plan: r.args.Plan, WorldID: cmd.World, Query: cmd.Text, Limit: cmd.Limit})
	if err != nil {
		return err
	}
	for _, hit := range resp.Hits {
		d := hit.Document
		line := strings.TrimSpace(strings.Join([]string{d.Subject, d.Predicate, d.Object, d.Graph}, " "))
		if _, err := fmt.Fprintf(r.stdout, "%.4f\t%s .\n", hit.Score, line); err != nil {
			return err
		}
	}
	return nil
}

// formatFromExtension guesses a decodable format from a file name,
// ignoring a trailing compression extension
func formatFromExtension(name string) (codec.Format, codec.Compression) {
	compression := codec.CompressionNone
	switch filepath.Ext(name) {
	case ".gz":
		compression = codec.CompressionGzip
	case ".zst":
		compression = codec.CompressionZstd
	case ".lz4":
		compression = codec.CompressionLZ4
	}
	if compression != codec.CompressionNone {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	for _, format := range []codec.Format{codec.FormatNQuads, codec.FormatTriG, codec.FormatJSONLD} {
		if filepath.Ext(name) == format.Extension() {
			return format, compression
		}
	}
	return codec.FormatNQuads, compression
}

func (r *WorldsRunner) importFile(ctx context.Context, svc *world.Service) error {
	cmd := r.args.Import
	format, compression := formatFromExtension(cmd.File)
	var err error
	if cmd.Format != "" {
		if format, err = codec.ParseFormat(cmd.Format); err != nil {
			return err
		}
	}
	if cmd.Compression != "" {
		if compression, err = codec.ParseCompression(cmd.Compression); err != nil {
			return err
		}
	}

	var body io.Reader = r.stdin
	if cmd.File != "-" {
		f, err := os.Open(cmd.File)
		if err != nil {
			return err
		}
		defer f.Close()
		body = f
	}

	res, err := svc.Import(ctx, world.ImportRequest{
		TenantID:    r.args.Tenant,
		Plan:        r.args.Plan,
		WorldID:     cmd.World,
		Body:        body,
		Format:      format,
		Compression: compression,
	})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"world": cmd.World, "quads": res.Quads, "changed": res.Changed}).Info("import finished")
	return nil
}

func (r *WorldsRunner) export(ctx context.Context, svc *world.Service) error {
	cmd := r.args.Export
	format, err := codec.ParseFormat(cmd.Format)
	if err != nil {
		return err
	}
	compression, err := codec.ParseCompression(cmd.Compression)
	if err != nil {
		return err
	}

	res, err := svc.Export(ctx, world.ExportRequest{
		TenantID:    r.args.Tenant,
		Plan:        r.args.Plan,
		WorldID:     cmd.World,
		Format:      format,
		Compression: compression,
	})
	if err != nil {
		return err
	}
	if cmd.Output == "" {
		_, err = r.stdout.Write(res.Data)
		return err
	}
	return os.WriteFile(cmd.Output, res.Data, 0o600)
}

func (r *WorldsRunner) rebuild(ctx context.Context, svc *world.Service) error {
	report, err := svc.RebuildIndexes(ctx)
	if err != nil {
		return err
	}
	for worldID, err := range report.Failed {
		log.WithError(err).WithField("world", worldID).Error("rebuild failed")
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d of %d worlds failed to rebuild", len(report.Failed), report.Rebuilt+len(report.Failed))
	}
	_, err = fmt.Fprintf(r.stdout, "rebuilt %d worlds\n", report.Rebuilt)
	return err
}
