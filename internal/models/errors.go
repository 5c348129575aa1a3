package models

import "errors"

var (
	ErrExtraction        = errors.New("extraction error")
	ErrProcessingFailed  = errors.New("upstream processing failed")
	ErrRepairFailed      = errors.New("json repair failed")
	ErrChunking          = errors.New("chunking error")
	ErrEmbedding         = errors.New("embedding error")
	ErrIndex             = errors.New("index error")
	ErrRetrieval         = errors.New("retrieval error")
	ErrSynthesis         = errors.New("synthesis error")
	ErrUploadInProgress  = errors.New("upload already in progress")
	ErrResetNotConfirmed = errors.New("reset requires explicit confirmation")
)
