package chunker

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"manual-rag/internal/models"
)

func randomText(r *rand.Rand, n int) string {
	alphabet := []rune("abcdefghijklmnopqrstuvwxyzäöüßé漢字")
	out := make([]rune, n)
	for i := range out {
		out[i] = alphabet[r.Intn(len(alphabet))]
	}
	return string(out)
}

func TestChunkExampleScenario(t *testing.T) {
	content := randomText(rand.New(rand.NewSource(1)), 2500)
	runes := []rune(content)

	chunks, err := Chunk([]models.Page{{PageNumber: 1, Content: content}}, "manual.pdf", 1000, 400)
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	bounds := [][2]int{{0, 1000}, {600, 1600}, {1200, 2200}, {1800, 2500}}
	for i, b := range bounds {
		require.Equal(t, string(runes[b[0]:b[1]]), chunks[i].Text)
		require.Equal(t, i, chunks[i].ChunkIndex)
		require.Equal(t, 1, chunks[i].PageNumber)
		require.LessOrEqual(t, utf8.RuneCountInString(chunks[i].Text), 1000)
	}
}

func TestChunkEmptyPageYieldsNothing(t *testing.T) {
	pages := []models.Page{
		{PageNumber: 1, Content: "first page"},
		{PageNumber: 2, Content: ""},
		{PageNumber: 3, Content: "  \n\t "},
		{PageNumber: 4, Content: "last page"},
	}
	chunks, err := Chunk(pages, "m.pdf", 100, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, 1, chunks[0].PageNumber)
	require.Equal(t, 4, chunks[1].PageNumber)
	require.Equal(t, 1, chunks[1].ChunkIndex)
}

func TestChunkShortPageIsSingleStrippedChunk(t *testing.T) {
	chunks, err := Chunk([]models.Page{{PageNumber: 7, Content: "  Warning: hot surface \n"}}, "m.pdf", 100, 20)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, "Warning: hot surface", chunks[0].Text)
}

func TestChunkWindowsRawText(t *testing.T) {
	// leading whitespace is part of the first window
	chunks, err := Chunk([]models.Page{{PageNumber: 1, Content: "  abcdefgh"}}, "m.pdf", 5, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"abc", "defgh"}, texts(chunks))

	// blank windows inside a page are dropped, indices stay contiguous
	chunks, err = Chunk([]models.Page{{PageNumber: 1, Content: "abc      def"}}, "m.pdf", 3, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"abc", "def"}, texts(chunks))
	require.Equal(t, 1, chunks[1].ChunkIndex)

	chunks, err = Chunk([]models.Page{{PageNumber: 1, Content: "one two three\n"}}, "m.pdf", 8, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"one two", "o three"}, texts(chunks))
}

func texts(chunks []models.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func TestChunkCoverageAndBounds(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		size := 1 + r.Intn(60)
		overlap := r.Intn(size)
		content := randomText(r, r.Intn(400))

		chunks, err := Chunk([]models.Page{{PageNumber: 1, Content: content}}, "m.pdf", size, overlap)
		require.NoError(t, err)

		var rebuilt strings.Builder
		for j, c := range chunks {
			n := utf8.RuneCountInString(c.Text)
			require.LessOrEqual(t, n, size)
			if j == 0 {
				rebuilt.WriteString(c.Text)
				continue
			}
			require.GreaterOrEqual(t, n, overlap)
			rebuilt.WriteString(string([]rune(c.Text)[overlap:]))
		}
		require.Equal(t, content, rebuilt.String(), "size=%d overlap=%d", size, overlap)
	}
}

func TestChunkTerminatesForAllOverlaps(t *testing.T) {
	content := strings.Repeat("x", 97)
	for size := 1; size <= 20; size++ {
		for overlap := 0; overlap < size; overlap++ {
			chunks, err := Chunk([]models.Page{{PageNumber: 1, Content: content}}, "m.pdf", size, overlap)
			require.NoError(t, err)
			if size >= len(content) {
				require.Len(t, chunks, 1)
				continue
			}
			step := size - overlap
			want := (len(content) - overlap + step - 1) / step
			require.Len(t, chunks, want, "size=%d overlap=%d", size, overlap)
		}
	}
}

func TestChunkIDsUnique(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	var pages []models.Page
	for i := 1; i <= 5; i++ {
		pages = append(pages, models.Page{PageNumber: i, Content: randomText(r, 300)})
	}
	chunks, err := Chunk(pages, "Oven_Manual.pdf", 100, 30)
	require.NoError(t, err)

	seen := map[string]bool{}
	for i, c := range chunks {
		require.Equal(t, i, c.ChunkIndex)
		require.False(t, seen[c.ID()], c.ID())
		seen[c.ID()] = true
	}
	require.Equal(t, "Oven_Manual.pdf_chunk_0", chunks[0].ID())
}

func TestChunkRejectsInvalidParameters(t *testing.T) {
	for _, p := range [][2]int{{0, 0}, {10, 10}, {10, 11}, {10, -1}, {-5, 0}} {
		_, err := Chunk(nil, "m.pdf", p[0], p[1])
		require.True(t, errors.Is(err, models.ErrChunking), "size=%d overlap=%d", p[0], p[1])
	}
}
