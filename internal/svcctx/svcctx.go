// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/pricelens-dev/pricelens/internal/blob"
	"github.com/pricelens-dev/pricelens/internal/correct"
	"github.com/pricelens-dev/pricelens/internal/pipeline"
	"github.com/pricelens-dev/pricelens/internal/progress"
	"github.com/pricelens-dev/pricelens/internal/store"
)

// Blob is the slice of the object store the HTTP layer uses. *blob.Client
// satisfies it; endpoint tests substitute an in-memory fake.
type Blob interface {
	PutOriginal(ctx context.Context, uploadID, ext string, data []byte) (string, error)
	GetPageImage(ctx context.Context, uploadID string, pageNum int) ([]byte, error)
	ListPageImages(ctx context.Context, uploadID string) ([]string, error)
	GetCSV(ctx context.Context, uploadID string) ([]byte, error)
	DeleteUploadFiles(ctx context.Context, uploadID string) error
}

var _ Blob = (*blob.Client)(nil)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Store    *store.Store
	Blob     Blob
	Pipeline *pipeline.Pipeline
	Hub      *progress.Hub
	Correct  *correct.Service
	Logger   *slog.Logger
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// StoreFrom extracts the relational store from context.
func StoreFrom(ctx context.Context) *store.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// BlobFrom extracts the object store client from context.
func BlobFrom(ctx context.Context) Blob {
	if s := ServicesFrom(ctx); s != nil {
		return s.Blob
	}
	return nil
}

// PipelineFrom extracts the ingest pipeline from context.
func PipelineFrom(ctx context.Context) *pipeline.Pipeline {
	if s := ServicesFrom(ctx); s != nil {
		return s.Pipeline
	}
	return nil
}

// HubFrom extracts the progress hub from context.
func HubFrom(ctx context.Context) *progress.Hub {
	if s := ServicesFrom(ctx); s != nil {
		return s.Hub
	}
	return nil
}

// CorrectFrom extracts the table-correction service from context.
func CorrectFrom(ctx context.Context) *correct.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.Correct
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}
