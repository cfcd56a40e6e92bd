package splitter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextKeepsChunksUnderSize(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("## Note\n")
		b.WriteString(strings.Repeat("finding ", 20))
		b.WriteString("\n\n")
	}

	ts := NewRecursiveCharacterTextSplitter(300, 20)
	chunks, err := ts.SplitText(b.String())
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 300)
		assert.NotEmpty(t, strings.TrimSpace(c))
	}
}

func TestSplitTextShortInput(t *testing.T) {
	ts := NewRecursiveCharacterTextSplitter(1000, 100)

	chunks, err := ts.SplitText("one short note")
	require.NoError(t, err)
	assert.Equal(t, []string{"one short note"}, chunks)

	chunks, err = ts.SplitText("  \n ")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
