package render_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ollamacord/internal/render"
)

func TestPartition(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{
			name:  "empty text is one empty chunk",
			text:  "",
			limit: 5,
			want:  []string{""},
		},
		{
			name:  "shorter than limit",
			text:  "abc",
			limit: 5,
			want:  []string{"abc"},
		},
		{
			name:  "exactly the limit",
			text:  "abcde",
			limit: 5,
			want:  []string{"abcde"},
		},
		{
			name:  "one past the limit",
			text:  "abcdef",
			limit: 5,
			want:  []string{"abcde", "f"},
		},
		{
			name:  "whitespace is preserved",
			text:  "  a \n b  ",
			limit: 3,
			want:  []string{"  a", " \n ", "b  "},
		},
		{
			name:  "multi-byte runes are not split",
			text:  "héllo wörld",
			limit: 4,
			want:  []string{"héll", "o wö", "rld"},
		},
		{
			name:  "non-positive limit returns whole text",
			text:  "abc",
			limit: 0,
			want:  []string{"abc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := render.Partition(tt.text, tt.limit)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Partition() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPartition_FiveThousandAtDefaultLimit(t *testing.T) {
	text := strings.Repeat("x", 5000)

	chunks := render.Partition(text, render.DefaultLimit)

	lengths := make([]int, 0, len(chunks))
	for _, c := range chunks {
		lengths = append(lengths, len(c))
	}
	assert.Equal(t, []int{1900, 1900, 1200}, lengths)
}

func TestPartition_Laws(t *testing.T) {
	inputs := []string{
		"",
		"a",
		strings.Repeat("ab", 37),
		strings.Repeat("日本語", 101),
		"**Model:** llama3\n**You:** hi\n\n**AI:** " + strings.Repeat("token ", 700),
	}
	limits := []int{1, 2, 7, 64, 1900}

	for _, text := range inputs {
		for _, limit := range limits {
			chunks := render.Partition(text, limit)

			require.Equal(t, text, strings.Join(chunks, ""), "concatenation must equal input")

			runes := utf8.RuneCountInString(text)
			wantCount := (runes + limit - 1) / limit
			if runes == 0 {
				wantCount = 1
			}
			assert.Len(t, chunks, wantCount, "limit %d", limit)

			for _, c := range chunks {
				assert.LessOrEqual(t, utf8.RuneCountInString(c), limit)
				assert.True(t, utf8.ValidString(c), "chunk must be valid UTF-8")
			}
		}
	}
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name     string
		chunks   []string
		rendered int
		want     []render.Op
	}{
		{
			name:     "nothing rendered yet creates all",
			chunks:   []string{"a", "b"},
			rendered: 0,
			want: []render.Op{
				{Kind: render.OpCreate, Index: 0, Content: "a"},
				{Kind: render.OpCreate, Index: 1, Content: "b"},
			},
		},
		{
			name:     "existing messages are edited, new ones created",
			chunks:   []string{"a", "b", "c"},
			rendered: 2,
			want: []render.Op{
				{Kind: render.OpEdit, Index: 0, Content: "a"},
				{Kind: render.OpEdit, Index: 1, Content: "b"},
				{Kind: render.OpCreate, Index: 2, Content: "c"},
			},
		},
		{
			name:     "shorter partition never deletes",
			chunks:   []string{"a"},
			rendered: 3,
			want: []render.Op{
				{Kind: render.OpEdit, Index: 0, Content: "a"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := render.Reconcile(tt.chunks, tt.rendered)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Reconcile() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOpKind_String(t *testing.T) {
	assert.Equal(t, "edit", render.OpEdit.String())
	assert.Equal(t, "create", render.OpCreate.String())
	assert.Equal(t, "unknown", render.OpKind(42).String())
}
