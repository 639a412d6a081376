package terminalapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/bsm/redislock"
	"github.com/mmdatafocus/terminal_sync/config"
	"github.com/mmdatafocus/terminal_sync/models"
	"github.com/mmdatafocus/terminal_sync/utils"
)

// SyncAuditSink archives finished /sync runs outside the database.
type SyncAuditSink interface {
	ArchiveSyncRun(ctx context.Context, run *models.TerminalSyncRun, mismatched []MismatchedItem) error
}

// SyncLocker serializes /sync batches of one terminal across API replicas.
type SyncLocker interface {
	LockTerminal(ctx context.Context, terminalId string) (release func(), err error)
}

type syncArchive struct {
	Run        *models.TerminalSyncRun `json:"run"`
	Mismatched []MismatchedItem        `json:"mismatched"`
	ArchivedAt time.Time               `json:"archived_at"`
}

// GCSAuditSink writes one JSON object per run under
// sync-runs/<school>/<terminal>/<yyyy>/<mm>/<dd>/.
type GCSAuditSink struct {
	Client *storage.Client
	Bucket string
}

func (s *GCSAuditSink) ArchiveSyncRun(ctx context.Context, run *models.TerminalSyncRun, mismatched []MismatchedItem) error {
	data, err := json.Marshal(syncArchive{Run: run, Mismatched: mismatched, ArchivedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return config.WriteObject(ctx, s.Client, s.Bucket, SyncArchiveObjectName(run), "application/json", data)
}

func SyncArchiveObjectName(run *models.TerminalSyncRun) string {
	school := run.SchoolId
	if school == "" {
		school = "_"
	}
	return fmt.Sprintf("sync-runs/%s/%s/%s/%d-%s.json",
		school, run.TerminalId, run.StartedAt.UTC().Format("2006/01/02"), run.ID, run.CorrelationId)
}

// RedisSyncLocker takes terminal-sync:<terminal_id> in redis.
type RedisSyncLocker struct {
	Locker *redislock.Client
	TTL    time.Duration
	Wait   time.Duration
}

func (l *RedisSyncLocker) LockTerminal(ctx context.Context, terminalId string) (func(), error) {
	return utils.ObtainLock(ctx, l.Locker, "terminal-sync", terminalId, l.TTL, l.Wait)
}
