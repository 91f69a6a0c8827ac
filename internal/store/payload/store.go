package payload

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"duiwatch/internal/config"
	"duiwatch/internal/logger"
	"duiwatch/internal/models"
	"duiwatch/internal/store"
)

const provenanceLimit = 500

// Store is a store.Store backed by two Payload collections.
type Store struct {
	client  Client
	logger  *logger.Logger
	now     func() time.Time
	queries queries
}

var _ store.Store = (*Store)(nil)

// queries holds the GraphQL documents for the configured collections.
type queries struct {
	offenders       string
	provenance      string
	findByKey       map[string]string
	getOffender     string
	createOffender  string
	updateOffender  string
	createSource    string
	listSources     string
	createResultKey string
}

// Open creates a GraphQL client for cfg.URL and authenticates. With an
// email the client logs in; otherwise the API key is sent as is.
func Open(ctx context.Context, cfg config.PayloadConfig, log *logger.Logger) (*Store, error) {
	client := NewGraphQLClient(cfg.URL, cfg.APIKey, log)

	if cfg.Email != "" {
		if err := client.Login(ctx, cfg.Email, cfg.Password); err != nil {
			return nil, fmt.Errorf("payload authentication failed: %w", err)
		}

		log.Info("🔐 Authenticated with Payload CMS")
	}

	return New(client, cfg, log), nil
}

// New creates a store over an existing client.
func New(client Client, cfg config.PayloadConfig, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}

	offenders := cfg.OffenderCollection
	if offenders == "" {
		offenders = "offenders"
	}

	sources := cfg.ProvenanceCollection
	if sources == "" {
		sources = "offender-sources"
	}

	return &Store{
		client:  client,
		logger:  log,
		now:     time.Now,
		queries: buildQueries(offenders, sources),
	}
}

// graphQLNames returns the plural and singular type names Payload derives
// from a collection slug: "offender-sources" gives OffenderSources and
// OffenderSource.
func graphQLNames(slug string) (string, string) {
	var b strings.Builder

	for _, part := range strings.FieldsFunc(slug, func(r rune) bool {
		return r == '-' || r == '_' || unicode.IsSpace(r)
	}) {
		runes := []rune(part)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}

	plural := b.String()

	return plural, strings.TrimSuffix(plural, "s")
}

func buildQueries(offenderSlug, sourceSlug string) queries {
	offPlural, offSingular := graphQLNames(offenderSlug)
	srcPlural, srcSingular := graphQLNames(sourceSlug)

	q := queries{
		offenders:       offPlural,
		provenance:      srcPlural,
		findByKey:       make(map[string]string, len(keyFields)),
		createResultKey: "create" + offSingular,
	}

	for key, field := range keyFields {
		q.findByKey[key] = fmt.Sprintf(`
query Find%[1]s($name: String!, $value: String!) {
  %[2]s(where: { AND: [{ name: { equals: $name } }, { %[3]s: { equals: $value } }] }, sort: "createdAt", limit: 1) {
    docs {
      %[4]s
    }
  }
}
`, offSingular, offPlural, field, offenderFields)
	}

	q.getOffender = fmt.Sprintf(`
query Get%[1]s($id: Int!) {
  %[2]s(where: { id: { equals: $id } }, limit: 1) {
    docs {
      %[3]s
    }
  }
}
`, offSingular, offPlural, offenderFields)

	q.createOffender = fmt.Sprintf(`
mutation Create%[1]s($data: mutation%[1]sInput!) {
  create%[1]s(data: $data) {
    id
  }
}
`, offSingular)

	q.updateOffender = fmt.Sprintf(`
mutation Update%[1]s($id: Int!, $data: mutation%[1]sUpdateInput!) {
  update%[1]s(id: $id, data: $data) {
    id
  }
}
`, offSingular)

	q.createSource = fmt.Sprintf(`
mutation Create%[1]s($data: mutation%[1]sInput!) {
  create%[1]s(data: $data) {
    id
  }
}
`, srcSingular)

	q.listSources = fmt.Sprintf(`
query List%[1]s($offender: JSON!, $limit: Int!) {
  %[1]s(where: { offender: { equals: $offender } }, sort: "crawlTime", limit: $limit) {
    docs {
      id
      sourceName
      url
      imageUrl
      crawlTime
      offender {
        id
      }
    }
  }
}
`, srcPlural)

	return q
}

// FindByMatchKey implements store.Store.
func (s *Store) FindByMatchKey(ctx context.Context, key store.MatchKey) (*models.OffenderRecord, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidKey, key.Field)
	}

	resp, err := s.client.Execute(ctx, s.queries.findByKey[key.Field], map[string]any{
		"name":  key.Name,
		"value": key.Value,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find offender: %w", err)
	}

	return s.firstOffender(resp)
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, id string) (*models.OffenderRecord, error) {
	n, err := docID(id)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Execute(ctx, s.queries.getOffender, map[string]any{"id": n})
	if err != nil {
		return nil, fmt.Errorf("failed to get offender: %w", err)
	}

	return s.firstOffender(resp)
}

func (s *Store) firstOffender(resp *GraphQLResponse) (*models.OffenderRecord, error) {
	if resp == nil {
		return nil, store.ErrNotFound
	}

	var wrapper map[string]struct {
		Docs []OffenderDoc `json:"docs"`
	}

	if err := json.Unmarshal(resp.Data, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to parse offenders: %w", err)
	}

	list, ok := wrapper[s.queries.offenders]
	if !ok || len(list.Docs) == 0 {
		return nil, store.ErrNotFound
	}

	return list.Docs[0].toRecord(), nil
}

// Insert implements store.Store.
func (s *Store) Insert(ctx context.Context, rec *models.OffenderRecord) (string, error) {
	if !rec.Valid() {
		return "", store.ErrNoMatchKey
	}

	doc := toOffenderDoc(rec)
	if doc.CrawlTime == "" {
		doc.CrawlTime = formatTime(s.now())
	}

	resp, err := s.client.Execute(ctx, s.queries.createOffender, map[string]any{"data": doc})
	if err != nil {
		return "", fmt.Errorf("failed to create offender: %w", err)
	}

	id, err := createdID(resp, s.queries.createResultKey)
	if err != nil {
		return "", err
	}

	s.logger.Debug(fmt.Sprintf("Created offender document %d", id))

	return strconv.Itoa(id), nil
}

// UpdateFields implements store.Store. Payload stamps updatedAt itself.
func (s *Store) UpdateFields(ctx context.Context, id string, patch store.Patch) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	data := patchData(patch)
	if len(data) == 0 {
		return nil
	}

	n, _ := docID(id)

	if _, err := s.client.Execute(ctx, s.queries.updateOffender, map[string]any{
		"id":   n,
		"data": data,
	}); err != nil {
		return fmt.Errorf("failed to update offender: %w", err)
	}

	return nil
}

// AppendProvenance implements store.Store.
func (s *Store) AppendProvenance(ctx context.Context, offenderID string, prov models.SourceProvenance) error {
	if _, err := s.Get(ctx, offenderID); err != nil {
		return err
	}

	n, _ := docID(offenderID)

	crawl := prov.CrawlTime
	if crawl.IsZero() {
		crawl = s.now()
	}

	doc := ProvenanceDoc{
		Offender:   n,
		SourceName: prov.SourceName,
		URL:        prov.URL,
		ImageURL:   prov.ImageURL,
		CrawlTime:  formatTime(crawl),
	}

	if _, err := s.client.Execute(ctx, s.queries.createSource, map[string]any{"data": doc}); err != nil {
		return fmt.Errorf("failed to create provenance: %w", err)
	}

	return nil
}

// ListProvenance implements store.Store.
func (s *Store) ListProvenance(ctx context.Context, offenderID string) ([]models.SourceProvenance, error) {
	n, err := docID(offenderID)
	if err != nil {
		return nil, nil
	}

	resp, err := s.client.Execute(ctx, s.queries.listSources, map[string]any{
		"offender": n,
		"limit":    provenanceLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list provenance: %w", err)
	}

	if resp == nil {
		return nil, nil
	}

	type sourceDoc struct {
		ProvenanceDoc
		Offender struct {
			ID int `json:"id"`
		} `json:"offender"`
	}

	var wrapper map[string]struct {
		Docs []sourceDoc `json:"docs"`
	}

	if err := json.Unmarshal(resp.Data, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to parse provenance: %w", err)
	}

	docs := wrapper[s.queries.provenance].Docs
	out := make([]models.SourceProvenance, 0, len(docs))

	for _, d := range docs {
		doc := d.ProvenanceDoc
		doc.Offender = d.Offender.ID
		out = append(out, doc.toProvenance())
	}

	return out, nil
}

// Transaction implements store.Store. Payload's GraphQL API has no
// transactions, so fn runs directly against the store.
func (s *Store) Transaction(ctx context.Context, fn func(store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fn(s)
}

// Close implements store.Store.
func (s *Store) Close() error {
	return nil
}

func createdID(resp *GraphQLResponse, key string) (int, error) {
	if resp == nil {
		return 0, ErrNoData
	}

	var wrapper map[string]struct {
		ID int `json:"id"`
	}

	if err := json.Unmarshal(resp.Data, &wrapper); err != nil {
		return 0, fmt.Errorf("failed to parse create response: %w", err)
	}

	doc, ok := wrapper[key]
	if !ok || doc.ID == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoData, key)
	}

	return doc.ID, nil
}
