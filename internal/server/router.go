// Package server exposes a session over a JSON HTTP API.
package server

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"manual-rag/internal/rag"
	"manual-rag/internal/speech"
)

type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (speech.Transcript, error)
}

// Server serializes every request that touches the session
type Server struct {
	mu          sync.Mutex
	session     *rag.Session
	transcriber Transcriber
}

// New builds a server. transcriber may be nil, which disables voice questions.
func New(session *rag.Session, transcriber Transcriber) *Server {
	return &Server{session: session, transcriber: transcriber}
}

func SetupRouter(s *Server, ginMode string) *gin.Engine {
	if ginMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		documents := api.Group("/documents")
		{
			documents.POST("", s.Upload)
			documents.GET("", s.ListJobs)
		}
		api.POST("/uploads/ack", s.Acknowledge)

		chat := api.Group("/chat")
		{
			chat.POST("", s.Chat)
			chat.POST("/voice", s.VoiceChat)
		}

		history := api.Group("/history")
		{
			history.GET("", s.History)
			history.DELETE("", s.ClearHistory)
		}

		index := api.Group("/index")
		{
			index.GET("/stats", s.Stats)
			index.DELETE("", s.Reset)
		}
	}
	return r
}
