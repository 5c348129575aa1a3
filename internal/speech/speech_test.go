package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"manual-rag/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(config.SpeechConfig{
		BaseURL:            srv.URL + "/v1",
		Key:                "test-key",
		TranscriptionModel: "whisper-1",
		SpeechModel:        "tts-1",
		Voice:              "shimmer",
	}, 0)
	require.NoError(t, err)
	return c
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(config.SpeechConfig{}, 0)
	require.Error(t, err)
}

func TestTranscribeEnglishSkipsTranslation(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"task": "transcribe", "language": "english", "text": " How do I descale? "})
	})

	out, err := c.Transcribe(context.Background(), "q.webm", strings.NewReader("audio"))
	require.NoError(t, err)
	require.Equal(t, "How do I descale?", out.Text)
	require.Equal(t, out.Text, out.Translation)
	require.Equal(t, []string{"/v1/audio/transcriptions"}, paths)
}

func TestTranscribeTranslatesOtherLanguages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/audio/transcriptions":
			_ = json.NewEncoder(w).Encode(map[string]any{"language": "german", "text": "Wie entkalke ich?"})
		case "/v1/audio/translations":
			_ = json.NewEncoder(w).Encode(map[string]any{"text": "How do I descale?"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	out, err := c.Transcribe(context.Background(), "q.webm", strings.NewReader("audio"))
	require.NoError(t, err)
	require.Equal(t, "german", out.Language)
	require.Equal(t, "Wie entkalke ich?", out.Text)
	require.Equal(t, "How do I descale?", out.Translation)
}

func TestTranscribeRejectsEmptyAudio(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.Transcribe(context.Background(), "q.webm", strings.NewReader(""))
	require.ErrorIs(t, err, ErrTranscription)
}

func TestTranscribeUpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := c.Transcribe(context.Background(), "q.webm", strings.NewReader("audio"))
	require.ErrorIs(t, err, ErrTranscription)
}

func TestSynthesizeStripsMarkup(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/speech", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3mp3"))
	})

	audio, err := c.Synthesize(context.Background(), "<p><strong>Unplug</strong> first.</p>")
	require.NoError(t, err)
	require.Equal(t, []byte("ID3mp3"), audio)
	require.Equal(t, "Unplug first.", body["input"])
	require.Equal(t, "shimmer", body["voice"])
	require.Equal(t, "mp3", body["response_format"])
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<p><strong>Unplug</strong> first.</p>", "Unplug first."},
		{"<p>Fill to 1.5&nbsp;L &amp; rinse.</p>", "Fill to 1.5 L & rinse."},
		{"<ol><li>Open</li><li>Close</li></ol>", "Open Close"},
		{"<p>Temperature &lt; 40&#176;C", "Temperature < 40°C"},
		{"Press <b>Start", "Press Start"},
		{"<script>alert(1)</script>Done", "Done"},
		{"<br>", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, plainText(tt.in), tt.in)
	}
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.Synthesize(context.Background(), "<br>")
	require.ErrorIs(t, err, ErrSynthesis)
}
