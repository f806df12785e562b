// Package documents stores uploaded source documents and resolves source
// references to readable local files.
package documents

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	BackendLocal = "local"
	BackendS3    = "s3"

	// UploadPrefix names stored uploads: financial_document_<uuid><ext>
	UploadPrefix = "financial_document_"

	s3Scheme = "s3://"
)

// Store saves uploads and resolves source references
type Store interface {
	// Save persists an upload and returns its source reference
	Save(ctx context.Context, filename string, r io.Reader, size int64) (string, error)
	// Exists reports whether a source reference points at a readable document
	Exists(ctx context.Context, ref string) (bool, error)
	// Fetch makes the document available as a local file. cleanup must always be called.
	Fetch(ctx context.Context, ref string) (path string, cleanup func(), err error)
}

// Config selects and configures the upload backend
type Config struct {
	Backend  string
	LocalDir string
	S3       S3Config
}

// New builds the configured store. Local paths stay resolvable in S3 mode
// and s3:// references are routed to S3 when it is configured.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	local, err := NewLocalStore(cfg.LocalDir, logger)
	if err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case "", BackendLocal:
		return local, nil
	case BackendS3:
		remote, err := NewS3Store(ctx, cfg.S3, logger)
		if err != nil {
			return nil, err
		}
		return &Router{Primary: remote, Local: local, Remote: remote}, nil
	default:
		return nil, fmt.Errorf("unknown document backend %q", cfg.Backend)
	}
}

// Router dispatches references by scheme. Save goes to Primary.
type Router struct {
	Primary Store
	Local   Store
	Remote  Store
}

func (r *Router) pick(ref string) Store {
	if IsS3Reference(ref) {
		return r.Remote
	}
	return r.Local
}

func (r *Router) Save(ctx context.Context, filename string, body io.Reader, size int64) (string, error) {
	return r.Primary.Save(ctx, filename, body, size)
}

func (r *Router) Exists(ctx context.Context, ref string) (bool, error) {
	return r.pick(ref).Exists(ctx, ref)
}

func (r *Router) Fetch(ctx context.Context, ref string) (string, func(), error) {
	return r.pick(ref).Fetch(ctx, ref)
}

// IsS3Reference reports whether ref uses the s3:// scheme
func IsS3Reference(ref string) bool {
	return strings.HasPrefix(ref, s3Scheme)
}

// ParseS3Reference splits s3://bucket/key
func ParseS3Reference(ref string) (bucket, key string, err error) {
	if !IsS3Reference(ref) {
		return "", "", fmt.Errorf("not an s3 reference: %s", ref)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(ref, s3Scheme), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 reference: %s", ref)
	}
	return bucket, key, nil
}

// UploadName generates the stored name of an upload, keeping its extension
func UploadName(filename string) string {
	ext := strings.ToLower(filepath.Ext(SanitizeFilename(filename)))
	return UploadPrefix + uuid.New().String() + ext
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	underscores = regexp.MustCompile(`_{2,}`)
)

// SanitizeFilename cleans a client supplied filename
func SanitizeFilename(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = underscores.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_.")

	if len(name) > 200 {
		name = name[len(name)-200:]
	}
	if name == "" {
		return "unnamed"
	}
	return name
}
