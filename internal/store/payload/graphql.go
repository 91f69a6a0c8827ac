// Package payload stores offender records in a Payload CMS through its
// GraphQL API.
package payload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"duiwatch/internal/logger"
)

// GraphQL errors.
var (
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	ErrGraphQLError         = errors.New("graphql error")
	ErrNoTokenReceived      = errors.New("no token received from login")
	ErrNoData               = errors.New("no data in response")
)

const maxResponseBytes = 10 << 20

// Client defines the interface for GraphQL communication.
type Client interface {
	Execute(ctx context.Context, query string, variables map[string]any) (*GraphQLResponse, error)
	Login(ctx context.Context, email, password string) error
}

// Ensure GraphQLClient implements Client.
var _ Client = (*GraphQLClient)(nil)

// GraphQLClient handles GraphQL communication with Payload CMS.
type GraphQLClient struct {
	httpClient *http.Client
	logger     *logger.Logger
	endpoint   string
	apiKey     string
	authToken  string
	mu         sync.RWMutex
}

// GraphQLRequest represents a GraphQL request.
type GraphQLRequest struct {
	Variables map[string]any `json:"variables,omitempty"`
	Query     string         `json:"query"`
}

// GraphQLResponse represents a GraphQL response.
type GraphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors,omitempty"`
}

// GraphQLError represents a GraphQL error.
type GraphQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// NewGraphQLClient creates a new GraphQL client. apiKey is sent as the
// Authorization header until Login succeeds.
func NewGraphQLClient(endpoint, apiKey string, log *logger.Logger) *GraphQLClient {
	if log == nil {
		log = logger.NewNop()
	}

	return &GraphQLClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log,
	}
}

// Execute sends a GraphQL request and returns the response.
func (c *GraphQLClient) Execute(ctx context.Context, query string, variables map[string]any) (resp *GraphQLResponse, err error) {
	c.logger.Debug(fmt.Sprintf("Executing GraphQL query: %s...", query[:min(len(query), 50)]))

	jsonBody, err := json.Marshal(GraphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	c.mu.RLock()
	token := c.authToken
	key := c.apiKey
	c.mu.RUnlock()

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if key != "" {
		req.Header.Set("Authorization", key)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close response body: %w", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		c.logger.Error(fmt.Sprintf("GraphQL request failed with status %d", httpResp.StatusCode))

		return nil, fmt.Errorf("%w: %d: %s", ErrUnexpectedStatusCode, httpResp.StatusCode, string(body))
	}

	var gqlResp GraphQLResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return &gqlResp, fmt.Errorf("%w: %s", ErrGraphQLError, gqlResp.Errors[0].Message)
	}

	return &gqlResp, nil
}

// UnmarshalGraphQLData unmarshals the response data into the target struct.
func UnmarshalGraphQLData[T any](resp *GraphQLResponse) (*T, error) {
	if resp == nil || resp.Data == nil {
		return nil, ErrNoData
	}

	var target T
	if err := json.Unmarshal(resp.Data, &target); err != nil {
		return nil, fmt.Errorf("failed to parse response data: %w", err)
	}

	return &target, nil
}

// LoginUserMutation authenticates a user and returns a token.
const LoginUserMutation = `
mutation LoginUser($email: String!, $password: String!) {
  loginUser(email: $email, password: $password) {
    token
  }
}
`

// Login authenticates with email and password, storing the auth token.
func (c *GraphQLClient) Login(ctx context.Context, email, password string) error {
	resp, err := c.Execute(ctx, LoginUserMutation, map[string]any{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	loginResp, err := UnmarshalGraphQLData[struct {
		LoginUser struct {
			Token string `json:"token"`
		} `json:"loginUser"`
	}](resp)
	if err != nil {
		return fmt.Errorf("failed to parse login response: %w", err)
	}

	if loginResp.LoginUser.Token == "" {
		return ErrNoTokenReceived
	}

	c.mu.Lock()
	c.authToken = loginResp.LoginUser.Token
	c.mu.Unlock()

	return nil
}
