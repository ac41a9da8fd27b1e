package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verityops/plandrift/pkg/schema"
)

type scriptedClient struct {
	response string
	err      error
	lastUser string
}

func (c *scriptedClient) Complete(_ context.Context, _ string, user string) (string, error) {
	c.lastUser = user
	return c.response, c.err
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"plain fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"surrounding whitespace", "  ```json\n{\"a\": 1}\n```  \n", `{"a": 1}`},
		{"unterminated fence", "```json\n{\"a\": 1}", `{"a": 1}`},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripFences(tt.in))
		})
	}
}

func TestExtractFeatures_FencedResponse(t *testing.T) {
	client := &scriptedClient{response: "```json\n{\"plan_name\": \"Acme 401(k) Plan\", \"vesting\": {\"type\": \"cliff\", \"schedule\": \"3 years\"}}\n```"}
	e := New(client, nil)

	features, err := e.ExtractFeatures(context.Background(), "SECTION 1. The Acme 401(k) Plan...")
	require.NoError(t, err)
	assert.Equal(t, "Acme 401(k) Plan", features["plan_name"])

	assert.Contains(t, client.lastUser, "PLAN DOCUMENT:")
	assert.Contains(t, client.lastUser, "SECTION 1.")
}

func TestExtractFeatures_EmptyDocument(t *testing.T) {
	e := New(&scriptedClient{}, nil)

	_, err := e.ExtractFeatures(context.Background(), "   \n\t ")
	require.Error(t, err)

	var auditErr *schema.AuditError
	require.ErrorAs(t, err, &auditErr)
	assert.Equal(t, schema.ErrCodeExtraction, auditErr.Code)
}

func TestExtractFeatures_OversizedDocumentTruncated(t *testing.T) {
	client := &scriptedClient{response: `{"plan_name": "Big Plan"}`}
	e := New(client, nil)

	doc := strings.Repeat("x", maxDocumentChars+500)
	_, err := e.ExtractFeatures(context.Background(), doc)
	require.NoError(t, err)

	// The prompt must carry at most the cap, not the full document.
	assert.LessOrEqual(t, strings.Count(client.lastUser, "x"), maxDocumentChars)
}

func TestExtractFeatures_ClientError(t *testing.T) {
	e := New(&scriptedClient{err: errors.New("model unavailable")}, nil)

	_, err := e.ExtractFeatures(context.Background(), "doc")
	require.Error(t, err)

	var auditErr *schema.AuditError
	require.ErrorAs(t, err, &auditErr)
	assert.Equal(t, schema.ErrCodeExtraction, auditErr.Code)
}

func TestExtractFeatures_MalformedResponse(t *testing.T) {
	e := New(&scriptedClient{response: "Sure! The plan has a vesting schedule."}, nil)

	_, err := e.ExtractFeatures(context.Background(), "doc")
	require.Error(t, err)

	var auditErr *schema.AuditError
	require.ErrorAs(t, err, &auditErr)
	assert.Equal(t, schema.ErrCodeExtraction, auditErr.Code)
}
