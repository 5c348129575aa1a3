package rag

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"manual-rag/internal/helper"
	"manual-rag/internal/models"
)

const maxJobs = 20

// Upload is one file of an upload batch
type Upload struct {
	Name   string
	Reader io.Reader
}

// Session holds one user's conversation log, recent upload jobs and the
// upload state machine. It is not safe for concurrent use; callers
// serialize access.
type Session struct {
	pipeline  *Pipeline
	uploadDir string

	history []models.ConversationTurn
	jobs    []models.UploadJob
	state   models.UploadState
}

func NewSession(pipeline *Pipeline, uploadDir string) *Session {
	return &Session{pipeline: pipeline, uploadDir: uploadDir, state: models.StateNormal}
}

func (s *Session) History() []models.ConversationTurn {
	return append([]models.ConversationTurn(nil), s.history...)
}

// modelHistory is the history handed to the model. A failed answer is dropped
// together with the question that produced it.
func (s *Session) modelHistory() []models.ConversationTurn {
	out := make([]models.ConversationTurn, 0, len(s.history))
	for i, t := range s.history {
		if t.Failed {
			continue
		}
		if t.Role == models.RoleUser && i+1 < len(s.history) && s.history[i+1].Failed {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (s *Session) ClearHistory() {
	s.history = nil
}

// Ask runs q against the pipeline with the session history and records both
// turns. Failed answers are logged with the error prefix.
func (s *Session) Ask(ctx context.Context, q Query) (models.ConversationTurn, Result) {
	q.History = s.modelHistory()
	res := s.pipeline.Ask(ctx, q)

	content := res.Answer
	if res.Failed {
		content = models.ErrorPrefix + content
	}
	turn := models.ConversationTurn{Role: models.RoleAssistant, Content: content, Audio: res.Audio, Failed: res.Failed}
	if !res.Citation.IsEmpty() {
		turn.Groundings = []models.Citation{res.Citation}
	}
	if strings.TrimSpace(q.Text) == "" {
		return turn, res
	}

	s.history = append(s.history,
		models.ConversationTurn{Role: models.RoleUser, Content: q.Text},
		turn,
	)
	return turn, res
}

func (s *Session) State() models.UploadState {
	return s.state
}

// Jobs returns the most recent upload jobs, oldest first
func (s *Session) Jobs() []models.UploadJob {
	return append([]models.UploadJob(nil), s.jobs...)
}

// Acknowledge returns a finished batch to the normal state
func (s *Session) Acknowledge() error {
	if s.state == models.StateUploading {
		return models.ErrUploadInProgress
	}
	s.state = models.StateNormal
	return nil
}

// IngestBatch processes files one after another. A failing file is recorded
// and the batch moves on. The temporary copy of every file is removed
// whatever the outcome.
func (s *Session) IngestBatch(ctx context.Context, files []Upload) (models.UploadState, []models.UploadJob, error) {
	if s.state == models.StateUploading {
		return s.state, nil, models.ErrUploadInProgress
	}
	if len(files) == 0 {
		return s.state, nil, errors.New("no files to upload")
	}
	s.state = models.StateUploading

	batch := make([]models.UploadJob, len(files))
	for i, f := range files {
		batch[i] = models.UploadJob{Name: f.Name, Status: models.UploadPending}
	}

	succeeded := 0
	for i, f := range files {
		job := &batch[i]
		n, err := s.ingestOne(ctx, f)
		job.ProcessedAt = time.Now()
		if err != nil {
			log.Error().Err(err).Str("file", f.Name).Msg("Failed to process file")
			job.Status = models.UploadError
			job.Error = err.Error()
			continue
		}
		job.Status = models.UploadSuccess
		job.Chunks = n
		succeeded++
	}

	switch {
	case succeeded == len(files):
		s.state = models.StateCompleted
	case succeeded == 0:
		s.state = models.StateFailed
	default:
		s.state = models.StatePartial
	}

	s.jobs = append(s.jobs, batch...)
	if len(s.jobs) > maxJobs {
		s.jobs = append([]models.UploadJob(nil), s.jobs[len(s.jobs)-maxJobs:]...)
	}
	log.Info().Str("state", string(s.state)).Int("files", len(files)).Int("succeeded", succeeded).Msg("Upload batch finished")
	return s.state, batch, nil
}

func (s *Session) ingestOne(ctx context.Context, f Upload) (int, error) {
	path, err := helper.PersistUpload(s.uploadDir, f.Name, f.Reader)
	if err != nil {
		return 0, err
	}
	defer helper.RemoveFile(path)
	return s.pipeline.Ingest(ctx, path, f.Name)
}

// Reset wipes the index and, on success, the session's history and jobs
func (s *Session) Reset(ctx context.Context, confirm bool) error {
	if s.state == models.StateUploading {
		return models.ErrUploadInProgress
	}
	if err := s.pipeline.Reset(ctx, confirm); err != nil {
		return err
	}
	s.history = nil
	s.jobs = nil
	s.state = models.StateNormal
	return nil
}

func (s *Session) Stats(ctx context.Context) (models.IndexStats, error) {
	return s.pipeline.Stats(ctx)
}
