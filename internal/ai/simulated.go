package ai

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"duiwatch/pkg/metadata"
)

var simulatedNames = []string{"模擬甲", "模擬乙", "模擬丙"}

// SimulatedClient stands in for a model when no credential is configured.
// Responses are derived from a hash of the input, so the same input always
// yields the same records.
type SimulatedClient struct{}

// NewSimulatedClient creates the placeholder client.
func NewSimulatedClient() *SimulatedClient {
	return &SimulatedClient{}
}

// Simulated implements Client.
func (c *SimulatedClient) Simulated() bool {
	return true
}

// ChatComplete implements Client. It never fails unless ctx is done.
func (c *SimulatedClient) ChatComplete(ctx context.Context, system string, content []Part, _ CompleteOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackend, err)
	}

	input := []byte(system)
	for _, p := range content {
		input = append(input, p.Text...)
		input = append(input, p.Data...)
	}

	digest := metadata.Digest(input)
	seed := binary.BigEndian.Uint32([]byte(digest[:4]))
	count := int(seed%3) + 1

	items := make([]map[string]any, 0, count)

	for i := 0; i < count; i++ {
		items = append(items, map[string]any{
			"sequence_number":  fmt.Sprintf("%d", i+1),
			"name":             simulatedNames[i],
			"id_number":        nil,
			"license_plate":    nil,
			"gender":           nil,
			"violation_date":   fmt.Sprintf("111/%d/%d", int(seed>>8)%12+1, i+1),
			"violation_clause": "第35條第1項",
			"location":         "模擬地點",
			"description":      "simulated record",
			"case_number":      fmt.Sprintf("SIM-%s-%d", metadata.Short(digest), i+1),
			"has_photo":        false,
		})
	}

	out, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal simulated records: %w", err)
	}

	return string(out), nil
}
