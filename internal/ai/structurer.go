package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"duiwatch/internal/config"
	"duiwatch/internal/logger"
	"duiwatch/internal/models"
	"duiwatch/pkg/utils"
)

// maxTextRunes caps the text sent in one request.
const maxTextRunes = 60000

// SystemPrompt instructs the model to return offender records.
const SystemPrompt = `You extract repeat drunk-driving offender records from Taiwanese government bulletins.
Return every offender listed as an object with exactly these fields:
sequence_number, name, id_number, license_plate, gender, violation_date, violation_clause, location, description, case_number, has_photo.
Use null for any field you cannot recover. Never invent values.
Preserve the source script exactly (Traditional Chinese); do not translate or convert dates.
has_photo is a boolean. All other fields are strings.
Respond with a JSON array only, no commentary.`

const itemSchema = `{
  "type": "object",
  "required": ["name"],
  "properties": {
    "sequence_number": {"type": ["string", "integer", "null"]},
    "name": {"type": "string", "minLength": 1},
    "id_number": {"type": ["string", "null"]},
    "license_plate": {"type": ["string", "null"]},
    "gender": {"type": ["string", "null"]},
    "violation_date": {"type": ["string", "null"]},
    "violation_clause": {"type": ["string", "null"]},
    "location": {"type": ["string", "null"]},
    "description": {"type": ["string", "null"]},
    "case_number": {"type": ["string", "integer", "null"]},
    "has_photo": {"type": ["boolean", "null"]}
  }
}`

// Structurer asks a Client for offender records and validates the answer.
type Structurer struct {
	client  Client
	schema  *jsonschema.Schema
	log     *logger.Logger
	opts    CompleteOptions
	timeout time.Duration
}

// NewStructurer creates a structurer over client.
func NewStructurer(client Client, cfg config.AIConfig, log *logger.Logger) (*Structurer, error) {
	if log == nil {
		log = logger.NewNop()
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("offender.json", strings.NewReader(itemSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}

	schema, err := compiler.Compile("offender.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &Structurer{
		client: client,
		schema: schema,
		log:    log,
		opts: CompleteOptions{
			Model:       cfg.Model,
			MaxTokens:   int64(cfg.MaxTokens),
			Temperature: cfg.Temperature,
			JSON:        true,
		},
		timeout: cfg.Timeout(),
	}, nil
}

// Simulated reports whether the underlying client is a placeholder.
func (s *Structurer) Simulated() bool {
	return s.client.Simulated()
}

// StructureText extracts records from bulletin text.
func (s *Structurer) StructureText(ctx context.Context, text, hint string) ([]models.RawRecord, error) {
	prompt := userPrompt(hint) + "\n\n" + utils.Truncate(text, maxTextRunes)

	return s.structure(ctx, "text", []Part{TextPart(prompt)})
}

// StructureDocument extracts records from a whole document, e.g. a scanned
// PDF without a text layer.
func (s *Structurer) StructureDocument(ctx context.Context, data []byte, mimeType, hint string) ([]models.RawRecord, error) {
	return s.structure(ctx, "document", []Part{TextPart(userPrompt(hint)), DataPart(data, mimeType)})
}

// StructureImage extracts records from a bulletin image.
func (s *Structurer) StructureImage(ctx context.Context, data []byte, mimeType, hint string) ([]models.RawRecord, error) {
	return s.structure(ctx, "image", []Part{TextPart(userPrompt(hint)), DataPart(data, mimeType)})
}

func (s *Structurer) structure(ctx context.Context, kind string, parts []Part) ([]models.RawRecord, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()

	resp, err := s.client.ChatComplete(ctx, SystemPrompt, parts, s.opts)
	if err != nil {
		if !errors.Is(err, ErrBackend) {
			err = fmt.Errorf("%w: %w", ErrBackend, err)
		}

		return nil, err
	}

	records, dropped, err := s.Parse(resp)
	if err != nil {
		s.log.Warn("⚠️  AI response had no usable records", "kind", kind, "response", utils.Truncate(resp, 200))

		return nil, err
	}

	simulated := s.client.Simulated()
	for i := range records {
		records[i].Simulated = simulated
	}

	s.log.Debug("AI structuring finished",
		"kind", kind,
		"records", len(records),
		"dropped", dropped,
		"simulated", simulated,
		"duration", time.Since(start).String(),
	)

	return records, nil
}

// Parse turns a model response into records. Items failing the schema are
// dropped and counted.
func (s *Structurer) Parse(resp string) ([]models.RawRecord, int, error) {
	payload, err := ExtractJSON(resp)
	if err != nil {
		return nil, 0, err
	}

	var (
		records []models.RawRecord
		dropped int
	)

	for _, item := range splitItems(payload) {
		var v any
		if err := json.Unmarshal(item, &v); err != nil {
			dropped++

			continue
		}

		if err := s.schema.Validate(v); err != nil {
			dropped++

			continue
		}

		obj, ok := v.(map[string]any)
		if !ok {
			dropped++

			continue
		}

		records = append(records, toRawRecord(obj))
	}

	if len(records) == 0 {
		return nil, dropped, ErrNoStructuredData
	}

	return records, dropped, nil
}

func userPrompt(hint string) string {
	if hint == "" {
		return "Extract the offender records from this bulletin."
	}

	return fmt.Sprintf("Extract the offender records from this bulletin (%s).", hint)
}

func toRawRecord(obj map[string]any) models.RawRecord {
	var rec models.RawRecord

	for key, value := range obj {
		if key == "has_photo" {
			if b, ok := value.(bool); ok {
				rec.HasPhoto = &b
			}

			continue
		}

		str := stringify(value)
		if str == "" {
			continue
		}

		rec.SetField(key, str)

		switch key {
		case "sequence_number":
			rec.SequenceNumber = str
		case "name":
			rec.Name = str
		case "violation_date":
			rec.ViolationDateRaw = str
		case "violation_clause":
			rec.ViolationClauseRaw = str
		case "location":
			rec.LocationRaw = str
		case "description":
			rec.Description = str
		}
	}

	return rec
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
