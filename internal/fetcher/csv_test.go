package fetcher

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hurdatSample = `AL092008,                IKE,     58,
20080901, 0600,  , TD, 17.2N,  37.0W,  30, 1006,
20080913, 0700, L, HU, 29.3N,  94.7W,  95,  951,
`

func TestStreamCSV_HURDATLayout(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader(hurdatSample), CSVOptions{
		TrimSpace:         true,
		DropEmptyTrailing: true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"AL092008", "IKE", "58"}, rows[0])
	assert.Equal(t, []string{"20080913", "0700", "L", "HU", "29.3N", "94.7W", "95", "951"}, rows[2])
	assert.Equal(t, "", rows[1][2])
}

func TestStreamCSV_KeepsTrailingByDefault(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader("a,b,\n"), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"a", "b", ""}, rows[0])
}

func TestStreamCSV_PipeDelimitedWithComments(t *testing.T) {
	input := "# generated\na|b|c\n1|2|3\n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter: '|',
		Comment:   '#',
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"1", "2", "3"}, rows[1])
}

func TestStreamCSV_Empty(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader(""), CSVOptions{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStreamCSV_BadQuote(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader("a,\"b\nc"), CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: read row")
}

func TestStreamCSV_LazyQuotes(t *testing.T) {
	input := "a,b,c\n1,\"hello \"world\",3\n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{LazyQuotes: true})
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestStreamCSV_ContextCancellation(t *testing.T) {
	var sb strings.Builder
	for range 10000 {
		sb.WriteString("a,b,c\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rowCh, errCh := StreamCSV(ctx, strings.NewReader(sb.String()), CSVOptions{})

	count := 0
	for range rowCh {
		count++
		if count == 5 {
			cancel()
			break
		}
	}
	for range rowCh {
	}

	select {
	case err := <-errCh:
		// Either a cancellation error or a clean close if the reader finished first.
		if err != nil {
			assert.Contains(t, err.Error(), "context cancelled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error channel not closed")
	}
}
