package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/terminal_sync/config"
	"github.com/mmdatafocus/terminal_sync/models"
	"github.com/mmdatafocus/terminal_sync/utils"
	"github.com/mmdatafocus/terminal_sync/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupIntegrationStore(t *testing.T) (*models.Store, *gorm.DB) {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "terminal_sync_test")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry(ctx)

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}
	return models.NewStore(db), db
}

func newTx(id, schoolId string) *models.Transaction {
	return &models.Transaction{
		TransactionId: id,
		TerminalId:    "T-1",
		VendorId:      "V-1",
		SchoolId:      schoolId,
		Amount:        decimal.RequireFromString("12.50"),
		Type:          models.TransactionTypePurchase,
		Status:        models.TransactionStatusPending,
		PaymentMethod: "cash",
		Source:        models.TransactionSourceTerminalProcess,
	}
}

func TestStoreIntegration(t *testing.T) {
	store, db := setupIntegrationStore(t)
	ctx := context.Background()

	if err := store.CreateTerminal(ctx, &models.Terminal{TerminalId: "T-1", SchoolId: "S-1", Status: models.TerminalStatusInactive}); err != nil {
		t.Fatalf("CreateTerminal: %v", err)
	}

	t.Run("duplicate transaction id", func(t *testing.T) {
		if err := store.CreateTransaction(ctx, newTx("TX-DUP", "S-1")); err != nil {
			t.Fatalf("CreateTransaction: %v", err)
		}
		err := store.CreateTransaction(ctx, newTx("TX-DUP", "S-1"))
		if !errors.Is(err, models.ErrDuplicateTransaction) {
			t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
		}
		var rows int64
		db.Model(&models.Transaction{}).Where("transaction_id = ?", "TX-DUP").Count(&rows)
		if rows != 1 {
			t.Fatalf("expected one row for TX-DUP, got %d", rows)
		}
		// The failed insert rolled back its outbox row too.
		var events int64
		db.Model(&models.TransactionEvent{}).Where("transaction_id = ?", "TX-DUP").Count(&events)
		if events != 1 {
			t.Fatalf("expected one outbox event for TX-DUP, got %d", events)
		}
	})

	t.Run("status update records event", func(t *testing.T) {
		if err := store.CreateTransaction(ctx, newTx("TX-STATUS", "S-1")); err != nil {
			t.Fatalf("CreateTransaction: %v", err)
		}
		got, err := store.UpdateTransactionStatus(ctx, "TX-STATUS", models.TransactionStatusCompleted)
		if err != nil {
			t.Fatalf("UpdateTransactionStatus: %v", err)
		}
		if got.Status != models.TransactionStatusCompleted {
			t.Fatalf("expected completed, got %s", got.Status)
		}
		if _, err := store.UpdateTransactionStatus(ctx, "TX-STATUS", models.TransactionStatusCompleted); err != nil {
			t.Fatalf("unchanged update: %v", err)
		}
		var events []models.TransactionEvent
		db.Where("transaction_id = ?", "TX-STATUS").Order("id ASC").Find(&events)
		if len(events) != 2 || events[1].EventType != models.TransactionEventStatusChanged {
			t.Fatalf("expected created + one status_changed event, got %+v", events)
		}
		if _, err := store.UpdateTransactionStatus(ctx, "TX-MISSING", models.TransactionStatusFailed); !errors.Is(err, models.ErrTransactionNotFound) {
			t.Fatalf("expected ErrTransactionNotFound, got %v", err)
		}
	})

	t.Run("school scope hides other schools", func(t *testing.T) {
		if err := store.CreateTransaction(ctx, newTx("TX-OTHER", "S-2")); err != nil {
			t.Fatalf("CreateTransaction: %v", err)
		}
		scoped := utils.SetSchoolIdInContext(ctx, "S-1")
		if _, err := store.GetTransaction(scoped, "TX-OTHER"); !errors.Is(err, models.ErrTransactionNotFound) {
			t.Fatalf("expected other school's transaction to be hidden, got %v", err)
		}
		if _, err := store.GetTransaction(utils.SetSchoolIdInContext(ctx, "S-2"), "TX-OTHER"); err != nil {
			t.Fatalf("expected own school's transaction to be visible: %v", err)
		}
		// The unique key is global, so a foreign id is still a duplicate.
		if err := store.CreateTransaction(scoped, newTx("TX-OTHER", "S-1")); !errors.Is(err, models.ErrDuplicateTransaction) {
			t.Fatalf("expected ErrDuplicateTransaction across schools, got %v", err)
		}
	})

	t.Run("credentials", func(t *testing.T) {
		raw1, cred1, err := store.IssueCredential(ctx, "T-1", "S-1", false)
		if err != nil {
			t.Fatalf("IssueCredential: %v", err)
		}
		if cred1.KeyHash != utils.HashAPIKey(raw1) || cred1.KeyPrefix != utils.APIKeyPrefix(raw1) {
			t.Fatalf("credential does not match raw key")
		}
		found, err := store.FindCredentialByHash(ctx, utils.HashAPIKey(raw1))
		if err != nil || found.ID != cred1.ID {
			t.Fatalf("FindCredentialByHash: %v %+v", err, found)
		}

		raw2, _, err := store.IssueCredential(ctx, "T-1", "S-1", true)
		if err != nil {
			t.Fatalf("rotate: %v", err)
		}
		if _, err := store.FindCredentialByHash(ctx, utils.HashAPIKey(raw1)); !errors.Is(err, models.ErrCredentialNotFound) {
			t.Fatalf("expected rotated key revoked, got %v", err)
		}
		if _, err := store.FindCredentialByHash(ctx, utils.HashAPIKey(raw2)); err != nil {
			t.Fatalf("expected new key active: %v", err)
		}
		n, err := store.RevokeCredentialByPrefix(ctx, utils.APIKeyPrefix(raw2))
		if err != nil || n != 1 {
			t.Fatalf("RevokeCredentialByPrefix: n=%d err=%v", n, err)
		}
	})

	t.Run("terminal config falls back to defaults", func(t *testing.T) {
		cfg, err := store.GetTerminalConfig(ctx, "T-1")
		if err != nil {
			t.Fatalf("GetTerminalConfig: %v", err)
		}
		if cfg.SyncIntervalSeconds != 300 {
			t.Fatalf("expected defaults, got %+v", cfg)
		}
		saved := models.DefaultTerminalConfig("T-1")
		saved.SyncIntervalSeconds = 60
		if err := store.SaveTerminalConfig(ctx, &saved); err != nil {
			t.Fatalf("SaveTerminalConfig: %v", err)
		}
		cfg, err = store.GetTerminalConfig(ctx, "T-1")
		if err != nil || cfg.SyncIntervalSeconds != 60 {
			t.Fatalf("expected saved config after cache invalidation, got %+v err=%v", cfg, err)
		}
	})

	t.Run("outbox dispatch and requeue", func(t *testing.T) {
		published := 0
		d := workflow.NewOutboxDispatcher(db, config.GetLogger())
		d.MaxAttempts = 1
		d.Publish = func(ctx context.Context, msg config.TransactionEventMessage) (string, error) {
			if msg.TransactionId == "TX-DUP" {
				return "", errors.New("broker unavailable")
			}
			published++
			return fmt.Sprintf("m-%d", msg.EventId), nil
		}
		if n := d.DispatchOnce(ctx); n == 0 || n != published {
			t.Fatalf("expected published events, got n=%d published=%d", n, published)
		}

		var failed models.TransactionEvent
		db.Where("transaction_id = ?", "TX-DUP").Take(&failed)
		if failed.PublishStatus != models.OutboxPublishStatusDead {
			t.Fatalf("expected DEAD after max attempts, got %s", failed.PublishStatus)
		}
		n, err := workflow.RequeueDead(ctx, db, []int{failed.ID})
		if err != nil || n != 1 {
			t.Fatalf("RequeueDead: n=%d err=%v", n, err)
		}
		db.Where("id = ?", failed.ID).Take(&failed)
		if failed.PublishStatus != models.OutboxPublishStatusPending || failed.PublishAttempts != 0 {
			t.Fatalf("expected PENDING with fresh budget, got %+v", failed)
		}
	})

	t.Run("sync run audit", func(t *testing.T) {
		run := &models.TerminalSyncRun{
			TerminalId: "T-1",
			SchoolId:   "S-1",
			Status:     models.SyncRunStatus(2, 1),
			Received:   2,
			Processed:  2,
			Mismatched: 1,
			StartedAt:  time.Now().UTC(),
		}
		errs := []models.TerminalSyncError{{TerminalId: "T-1", TransactionId: "TX-BAD", ErrorCode: models.SyncErrorMissingFields}}
		if err := store.RecordSyncRun(ctx, run, errs); err != nil {
			t.Fatalf("RecordSyncRun: %v", err)
		}
		var stored []models.TerminalSyncError
		db.Where("sync_run_id = ?", run.ID).Find(&stored)
		if len(stored) != 1 || stored[0].TransactionId != "TX-BAD" {
			t.Fatalf("expected one stored sync error, got %+v", stored)
		}
	})
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("terminal-sync-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "redis-cli", "ping"); err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("terminal-sync-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=terminal_sync_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent"); err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	m := regexp.MustCompile(`:(\d+)`).FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	b, err := exec.Command("docker", args...).CombinedOutput()
	return string(b), err
}
