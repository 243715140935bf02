package persistence

import (
	"time"

	"github.com/MimeLyc/print-queue/internal/jobs"
)

// ArchivedRecord is one row of the history database.
type ArchivedRecord struct {
	Job        *jobs.Job `json:"job"`
	ArchiveSeq int       `json:"archive_seq"`
	ArchivedAt time.Time `json:"archived_at"`
}

type StatusCount struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
