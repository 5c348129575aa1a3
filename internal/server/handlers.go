package server

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"manual-rag/internal/models"
	"manual-rag/internal/rag"
)

type ChatRequest struct {
	Query    string         `json:"query"`
	Language string         `json:"language"`
	Filters  models.Filters `json:"filters"`
	Speak    bool           `json:"speak"`
}

type ChatResponse struct {
	Content    string            `json:"content"`
	HTML       string            `json:"html"`
	Groundings []models.Citation `json:"groundings"`
	Metadata   models.Citation   `json:"metadata"`
	Greeting   bool              `json:"greeting"`
	Failed     bool              `json:"failed"`
	Audio      []byte            `json:"audio,omitempty"`
	Transcript string            `json:"transcript,omitempty"`
}

func (s *Server) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files provided"})
		return
	}

	uploads := make([]rag.Upload, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			closeAll(uploads)
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read " + h.Filename})
			return
		}
		uploads = append(uploads, rag.Upload{Name: h.Filename, Reader: f})
	}
	defer closeAll(uploads)

	s.mu.Lock()
	defer s.mu.Unlock()
	state, jobs, err := s.session.IngestBatch(c.Request.Context(), uploads)
	if errors.Is(err, models.ErrUploadInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state, "jobs": jobs})
}

func closeAll(uploads []rag.Upload) {
	for _, u := range uploads {
		if f, ok := u.Reader.(multipart.File); ok {
			f.Close()
		}
	}
}

func (s *Server) ListJobs(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"state": s.session.State(), "jobs": s.session.Jobs()})
}

func (s *Server) Acknowledge(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session.Acknowledge(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.session.State()})
}

func (s *Server) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.ask(c, rag.Query{
		Text:     req.Query,
		Language: req.Language,
		Filters:  req.Filters,
		Speak:    req.Speak,
	}))
}

// VoiceChat transcribes the "audio" form file and answers it like Chat.
// The detected language is used for the answer unless "language" is set.
func (s *Server) VoiceChat(c *gin.Context) {
	if s.transcriber == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "voice input is not configured"})
		return
	}
	fh, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read audio"})
		return
	}
	defer f.Close()

	transcript, err := s.transcriber.Transcribe(c.Request.Context(), fh.Filename, f)
	if err != nil {
		log.Error().Err(err).Msg("Transcription failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	language := c.PostForm("language")
	if language == "" && transcript.Translation != transcript.Text {
		language = transcript.Language
	}
	speak, _ := strconv.ParseBool(c.DefaultPostForm("speak", "false"))

	resp := s.ask(c, rag.Query{
		Text:        transcript.Text,
		Translation: transcript.Translation,
		Language:    language,
		Filters: models.Filters{
			Category:    c.PostForm("category"),
			Type:        c.PostForm("type"),
			Brand:       c.PostForm("brand"),
			ModelSeries: c.PostForm("model_series"),
		},
		Speak: speak,
	})
	resp.Transcript = transcript.Text
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ask(c *gin.Context, q rag.Query) ChatResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn, res := s.session.Ask(c.Request.Context(), q)
	groundings := turn.Groundings
	if groundings == nil {
		groundings = []models.Citation{}
	}
	return ChatResponse{
		Content:    turn.Content,
		HTML:       res.HTML,
		Groundings: groundings,
		Metadata:   res.Citation,
		Greeting:   res.Greeting,
		Failed:     res.Failed,
		Audio:      res.Audio,
	}
}

func (s *Server) History(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.session.History()
	if history == nil {
		history = []models.ConversationTurn{}
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (s *Server) ClearHistory(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.ClearHistory()
	c.Status(http.StatusNoContent)
}

func (s *Server) Stats(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, err := s.session.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_vector_count": stats.TotalVectorCount,
		"dimension":          stats.Dimension,
		"empty":              stats.TotalVectorCount == 0,
	})
}

func (s *Server) Reset(c *gin.Context) {
	confirm, _ := strconv.ParseBool(c.Query("confirm"))

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.session.Reset(c.Request.Context(), confirm)
	switch {
	case errors.Is(err, models.ErrResetNotConfirmed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrUploadInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "reset"})
	}
}
