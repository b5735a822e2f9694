package formatting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archivist/internal/events"
)

func TestPrettyJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected string
	}{
		{
			name:     "simple object",
			input:    map[string]interface{}{"name": "test", "value": 42},
			expected: "{\n  \"name\": \"test\",\n  \"value\": 42\n}",
		},
		{
			name:     "array",
			input:    []string{"a", "b", "c"},
			expected: "[\n  \"a\",\n  \"b\",\n  \"c\"\n]",
		},
		{
			name:     "nil",
			input:    nil,
			expected: "null",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PrettyJSON(tt.input))
		})
	}
}

func TestPrettyJSONWithInvalidData(t *testing.T) {
	result := PrettyJSON(make(chan int))
	assert.NotEmpty(t, result, "should fall back to fmt formatting")
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "document with title",
			raw:  `{"type":"document.created","data":{"document_id":"d1","title":"Invoice","status":"pending"}}`,
			want: `"Invoice" id=d1 status=pending`,
		},
		{
			name: "document falls back to filename",
			raw:  `{"type":"document.deleted","data":{"document_id":"d2","filename":"scan.pdf"}}`,
			want: `"scan.pdf" id=d2`,
		},
		{
			name: "tag",
			raw:  `{"type":"tag.updated","data":{"tag_id":"t1","name":"tax","color":"#ff0000"}}`,
			want: `"tax" id=t1 color=#ff0000`,
		},
		{
			name: "share",
			raw:  `{"type":"share.created","data":{"document_id":"d1","document_title":"Lease","shared_by":"bob@example.com","permission":"read"}}`,
			want: `bob@example.com shared "Lease" (read)`,
		},
		{
			name: "processing",
			raw:  `{"type":"document.processing","data":{"document_id":"d1","stage":"ocr","progress":42.4,"message":"page 3"}}`,
			want: `id=d1 42% ocr: page 3`,
		},
		{
			name: "unknown type shows raw data",
			raw:  `{"type":"quota.warning","data":{"used":90}}`,
			want: `{"used":90}`,
		},
		{
			name: "unknown type without data",
			raw:  `{"type":"quota.warning"}`,
			want: ``,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := events.Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, Summarize(ev))
		})
	}
}
