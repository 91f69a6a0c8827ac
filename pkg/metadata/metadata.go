// Package metadata provides content digests and sealed envelopes for
// extracted artifacts.
package metadata

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Version is written into every envelope.
const Version = "1"

// Envelope verification errors.
var (
	ErrNoHashFound  = errors.New("no hash found in envelope")
	ErrHashMismatch = errors.New("hash mismatch")
)

// Envelope wraps the records extracted from one document together with
// where they came from and a hash of the record payload.
type Envelope struct {
	ExtractedAt    time.Time       `json:"extracted_at"`
	Version        string          `json:"version"`
	Source         string          `json:"source"`
	URL            string          `json:"url,omitempty"`
	DocumentSHA256 string          `json:"document_sha256,omitempty"`
	PublishDate    string          `json:"publish_date,omitempty"`
	Hash           string          `json:"hash"`
	Records        json.RawMessage `json:"records"`
	RecordCount    int             `json:"record_count"`
	Simulated      bool            `json:"simulated,omitempty"`
}

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

// Short returns the first 12 characters of a digest.
func Short(digest string) string {
	if len(digest) <= 12 {
		return digest
	}

	return digest[:12]
}

// Seal marshals records and stamps the envelope with their hash.
func Seal(source, url, documentSHA string, count int, records any) (*Envelope, error) {
	payload, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshal records: %w", err)
	}

	return &Envelope{
		ExtractedAt:    time.Now().UTC(),
		Version:        Version,
		Source:         source,
		URL:            url,
		DocumentSHA256: documentSHA,
		Hash:           Digest(payload),
		Records:        payload,
		RecordCount:    count,
	}, nil
}

// Verify checks that Records still matches Hash. Records are compacted
// first so indented envelopes verify too.
func (e *Envelope) Verify() error {
	if e.Hash == "" {
		return ErrNoHashFound
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, e.Records); err != nil {
		return fmt.Errorf("compact records: %w", err)
	}

	calculated := Digest(compact.Bytes())
	if calculated != e.Hash {
		return fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, e.Hash, calculated)
	}

	return nil
}

// Marshal renders the envelope as indented JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}

var publishDatePattern = regexp.MustCompile(`(\d+)年(\d+)月(\d+)日`)

// PublishDate returns "year-month-day" for a file name carrying a date
// such as "113年3月5日酒駕累犯名單.pdf", or "" when there is none. The
// numbers are kept as written, so ROC years stay ROC years.
func PublishDate(filename string) string {
	m := publishDatePattern.FindStringSubmatch(filename)
	if m == nil {
		return ""
	}

	return m[1] + "-" + m[2] + "-" + m[3]
}
