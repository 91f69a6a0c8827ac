package payload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"duiwatch/internal/config"
	"duiwatch/internal/logger"
	"duiwatch/internal/models"
	"duiwatch/internal/store"
)

var (
	ErrUnexpectedQuery  = errors.New("unexpected query")
	ErrWrongCredentials = errors.New("wrong credentials")
)

// MockClient implements the Client interface for testing.
type MockClient struct {
	ExecuteFunc func(ctx context.Context, query string, variables map[string]any) (*GraphQLResponse, error)
	LoginFunc   func(ctx context.Context, email, password string) error
}

func (m *MockClient) Execute(ctx context.Context, query string, variables map[string]any) (*GraphQLResponse, error) {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, query, variables)
	}

	return nil, nil
}

func (m *MockClient) Login(ctx context.Context, email, password string) error {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password)
	}

	return nil
}

func str(s string) *string { return &s }

func TestGraphQLNames(t *testing.T) {
	tests := []struct {
		slug     string
		plural   string
		singular string
	}{
		{"offenders", "Offenders", "Offender"},
		{"offender-sources", "OffenderSources", "OffenderSource"},
		{"dui_records", "DuiRecords", "DuiRecord"},
	}

	for _, tt := range tests {
		plural, singular := graphQLNames(tt.slug)
		if plural != tt.plural || singular != tt.singular {
			t.Errorf("graphQLNames(%q) = %q, %q, want %q, %q", tt.slug, plural, singular, tt.plural, tt.singular)
		}
	}
}

func TestStore_InsertAndFind(t *testing.T) {
	var created map[string]any

	s := New(nil, config.PayloadConfig{}, logger.NewNop())
	s.client = &MockClient{
		ExecuteFunc: func(_ context.Context, query string, variables map[string]any) (*GraphQLResponse, error) {
			switch query {
			case s.queries.createOffender:
				b, _ := json.Marshal(variables["data"])
				_ = json.Unmarshal(b, &created)

				return &GraphQLResponse{Data: json.RawMessage(`{"createOffender": {"id": 42}}`)}, nil
			case s.queries.findByKey[store.KeyLicensePlate]:
				if variables["name"] != "石玉山" || variables["value"] != "ABC-1234" {
					return &GraphQLResponse{Data: json.RawMessage(`{"Offenders": {"docs": []}}`)}, nil
				}

				return &GraphQLResponse{Data: json.RawMessage(`{"Offenders": {"docs": [{
					"id": 42, "name": "石玉山", "licensePlate": "ABC-1234",
					"violationDate": "2022-07-11T00:00:00.000Z", "source": "taichung",
					"createdAt": "2024-01-02T03:04:05.000Z"
				}]}}`)}, nil
			}

			return nil, fmt.Errorf("%w: %s", ErrUnexpectedQuery, query)
		},
	}

	date := time.Date(2022, 7, 11, 0, 0, 0, 0, time.UTC)
	rec := &models.OffenderRecord{
		Name:          "石玉山",
		LicensePlate:  str("ABC-1234"),
		ViolationDate: &date,
		Source:        "taichung",
	}

	ctx := context.Background()

	id, err := s.Insert(ctx, rec)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if id != "42" {
		t.Errorf("id = %q, want 42", id)
	}

	if created["licensePlate"] != "ABC-1234" || created["violationDate"] != "2022-07-11" {
		t.Errorf("created doc = %v", created)
	}

	if _, ok := created["idNumber"]; ok {
		t.Error("nil fields must be omitted")
	}

	found, err := s.FindByMatchKey(ctx, store.MatchKey{Name: "石玉山", Field: store.KeyLicensePlate, Value: "ABC-1234"})
	if err != nil {
		t.Fatalf("FindByMatchKey() error = %v", err)
	}

	if found.ID != "42" || found.ViolationDate == nil || !found.ViolationDate.Equal(date) {
		t.Errorf("found = %+v", found)
	}

	if found.CreatedAt.IsZero() {
		t.Error("CreatedAt not parsed")
	}

	_, err = s.FindByMatchKey(ctx, store.MatchKey{Name: "乙", Field: store.KeyLicensePlate, Value: "ABC-1234"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestStore_InsertRejectsInvalid(t *testing.T) {
	s := New(&MockClient{}, config.PayloadConfig{}, nil)

	if _, err := s.Insert(context.Background(), &models.OffenderRecord{Name: "甲"}); !errors.Is(err, store.ErrNoMatchKey) {
		t.Errorf("error = %v, want ErrNoMatchKey", err)
	}
}

func TestStore_UpdateFieldsAndProvenance(t *testing.T) {
	var (
		updates []map[string]any
		sources []map[string]any
	)

	s := New(nil, config.PayloadConfig{}, nil)
	s.client = &MockClient{
		ExecuteFunc: func(_ context.Context, query string, variables map[string]any) (*GraphQLResponse, error) {
			switch query {
			case s.queries.getOffender:
				if variables["id"] != 7 {
					return &GraphQLResponse{Data: json.RawMessage(`{"Offenders": {"docs": []}}`)}, nil
				}

				return &GraphQLResponse{Data: json.RawMessage(`{"Offenders": {"docs": [{"id": 7, "name": "甲", "caseNumber": "B-1"}]}}`)}, nil
			case s.queries.updateOffender:
				updates = append(updates, variables["data"].(map[string]any))

				return &GraphQLResponse{Data: json.RawMessage(`{"updateOffender": {"id": 7}}`)}, nil
			case s.queries.createSource:
				b, _ := json.Marshal(variables["data"])

				var doc map[string]any
				_ = json.Unmarshal(b, &doc)
				sources = append(sources, doc)

				return &GraphQLResponse{Data: json.RawMessage(`{"createOffenderSource": {"id": 1}}`)}, nil
			case s.queries.listSources:
				return &GraphQLResponse{Data: json.RawMessage(`{"OffenderSources": {"docs": [
					{"id": 1, "sourceName": "taichung", "url": "https://example.gov.tw/a.pdf",
					 "crawlTime": "2024-01-02T03:04:05Z", "offender": {"id": 7}}
				]}}`)}, nil
			}

			return nil, fmt.Errorf("%w: %s", ErrUnexpectedQuery, query)
		},
	}

	ctx := context.Background()

	if err := s.UpdateFields(ctx, "7", store.Patch{Location: str("沙鹿區")}); err != nil {
		t.Fatalf("UpdateFields() error = %v", err)
	}

	if len(updates) != 1 || updates[0]["location"] != "沙鹿區" {
		t.Errorf("updates = %v", updates)
	}

	// an empty patch only checks existence
	if err := s.UpdateFields(ctx, "7", store.Patch{}); err != nil || len(updates) != 1 {
		t.Errorf("empty patch: err=%v updates=%d", err, len(updates))
	}

	if err := s.UpdateFields(ctx, "8", store.Patch{Location: str("x")}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}

	if err := s.UpdateFields(ctx, "not-a-number", store.Patch{}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}

	prov := models.SourceProvenance{SourceName: "taichung", URL: str("https://example.gov.tw/a.pdf")}
	if err := s.AppendProvenance(ctx, "7", prov); err != nil {
		t.Fatalf("AppendProvenance() error = %v", err)
	}

	if len(sources) != 1 || sources[0]["offender"] != float64(7) || sources[0]["crawlTime"] == "" {
		t.Errorf("sources = %v", sources)
	}

	list, err := s.ListProvenance(ctx, "7")
	if err != nil {
		t.Fatalf("ListProvenance() error = %v", err)
	}

	if len(list) != 1 || list[0].OffenderID != "7" || models.Deref(list[0].URL) != "https://example.gov.tw/a.pdf" {
		t.Errorf("provenance = %+v", list)
	}
}

func TestStore_TransactionRunsDirectly(t *testing.T) {
	s := New(&MockClient{}, config.PayloadConfig{}, nil)
	boom := errors.New("boom")

	called := false
	err := s.Transaction(context.Background(), func(tx store.Store) error {
		called = tx == s

		return boom
	})

	if !errors.Is(err, boom) || !called {
		t.Errorf("Transaction() err=%v called=%v", err, called)
	}
}

func TestGraphQLClient_LoginAndExecute(t *testing.T) {
	var lastAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		lastAuth = r.Header.Get("Authorization")

		var req GraphQLRequest
		_ = json.Unmarshal(body, &req)

		switch {
		case strings.Contains(req.Query, "loginUser"):
			if req.Variables["password"] != "pass" {
				_, _ = w.Write([]byte(`{"data": null, "errors": [{"message": "invalid credentials"}]}`))

				return
			}

			_, _ = w.Write([]byte(`{"data": {"loginUser": {"token": "tok"}}}`))
		case strings.Contains(req.Query, "boom"):
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`{"data": {"ok": true}}`))
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	client := NewGraphQLClient(srv.URL, "users API-Key abc", logger.NewNop())

	if _, err := client.Execute(ctx, "query { ok }", nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if lastAuth != "users API-Key abc" {
		t.Errorf("Authorization = %q, want api key", lastAuth)
	}

	if err := client.Login(ctx, "admin@test.com", "wrong"); !errors.Is(err, ErrGraphQLError) {
		t.Errorf("Login() error = %v, want ErrGraphQLError", err)
	}

	if err := client.Login(ctx, "admin@test.com", "pass"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	resp, err := client.Execute(ctx, "query { ok }", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if lastAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", lastAuth)
	}

	data, err := UnmarshalGraphQLData[struct {
		OK bool `json:"ok"`
	}](resp)
	if err != nil || !data.OK {
		t.Errorf("UnmarshalGraphQLData() = %+v, %v", data, err)
	}

	if _, err := client.Execute(ctx, "query { boom }", nil); !errors.Is(err, ErrUnexpectedStatusCode) {
		t.Errorf("error = %v, want ErrUnexpectedStatusCode", err)
	}
}

func TestOpen_LogsIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"loginUser": {"token": ""}}}`))
	}))
	defer srv.Close()

	_, err := Open(context.Background(), config.PayloadConfig{URL: srv.URL, Email: "a@b.c", Password: "x"}, logger.NewNop())
	if !errors.Is(err, ErrNoTokenReceived) {
		t.Errorf("Open() error = %v, want ErrNoTokenReceived", err)
	}
}
