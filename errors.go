package goAudit

import (
	"errors"

	"github.com/MrEthical07/goAudit/internal/buffer"
	"github.com/MrEthical07/goAudit/internal/template"
	"github.com/MrEthical07/goAudit/store"
)

var (
	// ErrBufferFull is returned by Record under RejectNew when no buffer space
	// frees up within EnqueueTimeout.
	ErrBufferFull = buffer.ErrFull
	// ErrInvalidEvent is returned by Record for events without a type.
	ErrInvalidEvent = errors.New("invalid audit event")
	// ErrTrailStopped is returned by every operation after Stop.
	ErrTrailStopped = errors.New("audit trail stopped")
	// ErrShutdownTimeout is returned by Stop when buffered events had to be
	// discarded. The wrapping message carries the discarded count.
	ErrShutdownTimeout = errors.New("audit trail shutdown timed out")
	// ErrStoreRequired is returned by Build without WithStore.
	ErrStoreRequired = errors.New("audit store required")
	// ErrBuilderUsed is returned by a second Build call.
	ErrBuilderUsed = errors.New("builder already used")

	// ErrStoreUnavailable is re-exported from the store package.
	ErrStoreUnavailable = store.ErrUnavailable
	// ErrStorePermissionDenied is re-exported from the store package.
	ErrStorePermissionDenied = store.ErrPermissionDenied
	// ErrMalformedDocument is re-exported from the store package.
	ErrMalformedDocument = store.ErrMalformed
)

// TemplateError reports why the partition template is not ready.
type TemplateError = template.Error

// TemplateReason classifies a TemplateError.
type TemplateReason = template.Reason

const (
	TemplateStoreUnavailable = template.StoreUnavailable
	TemplatePermissionDenied = template.PermissionDenied
	TemplateMalformed        = template.Malformed
)
