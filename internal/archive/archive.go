// Package archive stores raw downloaded documents and extracted record sets
// under a partitioned key layout:
//
//	raw/{source}/{yyyy}/{mm}/{sha[:12]}_{name}
//	extracted/{source}/{yyyy}/{mm}/{sha[:12]}_{stem}.json
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"duiwatch/internal/config"
	"duiwatch/pkg/metadata"
	"duiwatch/pkg/utils"
)

// ErrUnknownBackend is returned by Open for an unrecognized backend name.
var ErrUnknownBackend = errors.New("unknown archive backend")

// Store persists a blob under a key and returns where it was written.
type Store interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// RawKey builds the key for a downloaded document.
func RawKey(source string, t time.Time, name, sha string) string {
	return partitioned("raw", source, t, metadata.Short(sha)+"_"+utils.SafeFileName(name))
}

// ExtractedKey builds the key for the JSON records extracted from a document.
func ExtractedKey(source string, t time.Time, name, sha string) string {
	stem := strings.TrimSuffix(utils.SafeFileName(name), path.Ext(name))

	return partitioned("extracted", source, t, metadata.Short(sha)+"_"+stem+".json")
}

func partitioned(kind, source string, t time.Time, file string) string {
	return path.Join(
		kind,
		utils.SafeFileName(source),
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", int(t.Month())),
		file,
	)
}

// Nop discards everything. Used when archiving is disabled.
type Nop struct{}

// Put implements Store.
func (Nop) Put(context.Context, string, string, []byte) (string, error) {
	return "", nil
}

// Open builds the archive selected by cfg.Backend: "none", "fs" or "s3".
func Open(ctx context.Context, cfg config.ArchiveConfig) (Store, error) {
	switch cfg.Backend {
	case "none":
		return Nop{}, nil
	case "fs", "":
		return NewFSStore(cfg.BasePath), nil
	case "s3":
		return NewS3StoreFromEnv(ctx, cfg.Bucket, cfg.Prefix, cfg.Region)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
