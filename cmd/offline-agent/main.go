// offline-agent runs the local capture queue on a terminal host. The pending
// list lives in redis under offline_queue:<device>:offline_transactions.
//
// Usage:
//
//	offline-agent --device T-100 enqueue --transaction TX-1 --amount 12.50 --type purchase --student S1
//	offline-agent --device T-100 list
//	offline-agent --device T-100 --api-url https://host/terminal-api --api-key tk_live_... sync
//	offline-agent --device T-100 --api-url https://host/terminal-api --api-key tk_live_... run
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/mmdatafocus/terminal_sync/config"
	"github.com/mmdatafocus/terminal_sync/models"
	"github.com/mmdatafocus/terminal_sync/offlinequeue"
	"github.com/mmdatafocus/terminal_sync/utils"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	app = kingpin.New("offline-agent", "Offline transaction capture queue.")

	device        = app.Flag("device", "Device (terminal) id; namespaces the local queue.").Envar("OFFLINE_AGENT_DEVICE").Required().String()
	remoteKind    = app.Flag("remote", "Delivery target: http or db.").Envar("OFFLINE_AGENT_REMOTE").Default("http").Enum("http", "db")
	apiURL        = app.Flag("api-url", "Terminal API base URL.").Envar("OFFLINE_AGENT_API_URL").String()
	apiKey        = app.Flag("api-key", "Terminal API key.").Envar("OFFLINE_AGENT_API_KEY").String()
	school        = app.Flag("school", "Default school id.").Envar("OFFLINE_AGENT_SCHOOL").String()
	vendor        = app.Flag("vendor", "Default vendor id.").Envar("OFFLINE_AGENT_VENDOR").String()
	paymentMethod = app.Flag("payment-method", "Default payment method.").Envar("OFFLINE_AGENT_PAYMENT_METHOD").Default("cash").String()
	useGuard      = app.Flag("guard", "Hold a redis lock while syncing.").Envar("OFFLINE_AGENT_GUARD").Default("true").Bool()

	enqueueCmd      = app.Command("enqueue", "Capture one transaction locally.")
	enqueueTx       = enqueueCmd.Flag("transaction", "Transaction id.").Required().String()
	enqueueAmount   = enqueueCmd.Flag("amount", "Amount.").Required().String()
	enqueueType     = enqueueCmd.Flag("type", "purchase or topup.").Default("purchase").String()
	enqueueStudent  = enqueueCmd.Flag("student", "Student id.").String()
	enqueueMetadata = enqueueCmd.Flag("meta", "Metadata key=value (repeatable).").StringMap()

	listCmd = app.Command("list", "Print pending transactions as JSON.")
	syncCmd = app.Command("sync", "Deliver pending transactions once.")

	runCmd      = app.Command("run", "Sync whenever the API becomes reachable.")
	runInterval = runCmd.Flag("probe-interval", "Health probe interval.").Default("15s").Duration()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	logger := config.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := connectRedis(ctx, command != runCmd.FullCommand())
	if rdb == nil {
		fail("redis not connected at %s", config.EnvString("REDIS_ADDRESS", "localhost:6379"))
	}

	deviceId := strings.TrimSpace(*device)
	defaults := offlinequeue.Defaults{
		TerminalId:    deviceId,
		SchoolId:      strings.TrimSpace(*school),
		VendorId:      strings.TrimSpace(*vendor),
		PaymentMethod: strings.TrimSpace(*paymentMethod),
	}
	cfg := offlinequeue.Config{
		Store:         &offlinequeue.RedisStore{Client: rdb, Prefix: "offline_queue:" + deviceId + ":"},
		Logger:        logger,
		RemoteTimeout: config.EnvDuration("OFFLINE_QUEUE_REMOTE_TIMEOUT", offlinequeue.DefaultRemoteTimeout),
	}
	if *useGuard {
		cfg.Guard = &offlinequeue.RedisGuard{Locker: config.GetRedisLock(), Name: deviceId}
	}
	if command == syncCmd.FullCommand() || command == runCmd.FullCommand() {
		remote, err := buildRemote(defaults)
		if err != nil {
			fail("%v", err)
		}
		cfg.Remote = remote
	} else {
		cfg.Remote = unavailableRemote{}
	}

	var probe *offlinequeue.ProbeSignal
	if command == runCmd.FullCommand() && *remoteKind == "http" {
		probe = offlinequeue.NewProbeSignal(healthURL(*apiURL), *runInterval)
		cfg.Signal = probe
	} else if command == runCmd.FullCommand() {
		// A local database is always reachable.
		cfg.Signal = offlinequeue.NewManualSignal(true)
	}

	queue, err := offlinequeue.NewQueue(cfg)
	if err != nil {
		fail("%v", err)
	}

	switch command {
	case enqueueCmd.FullCommand():
		amount, err := utils.ParseDecimal(*enqueueAmount)
		if err != nil {
			fail("invalid amount: %v", err)
		}
		metadata := map[string]interface{}{}
		for k, v := range *enqueueMetadata {
			metadata[k] = v
		}
		tx, err := queue.Enqueue(ctx, offlinequeue.NewTransaction{
			TransactionId: *enqueueTx,
			StudentId:     *enqueueStudent,
			Amount:        amount,
			Type:          *enqueueType,
			DeviceId:      deviceId,
			VendorId:      defaults.VendorId,
			SchoolId:      defaults.SchoolId,
			PaymentMethod: defaults.PaymentMethod,
			Metadata:      metadata,
		})
		if err != nil {
			fail("enqueue: %v", err)
		}
		printJSON(tx)

	case listCmd.FullCommand():
		pending, err := queue.ListPending(ctx)
		if err != nil {
			fail("list: %v", err)
		}
		printJSON(pending)

	case syncCmd.FullCommand():
		summary, err := queue.Sync(ctx)
		printJSON(summary)
		if err != nil {
			fail("sync: %v", err)
		}

	case runCmd.FullCommand():
		if probe != nil {
			go probe.Run(ctx)
		}
		logger.WithFields(logrus.Fields{"device": deviceId, "remote": *remoteKind}).Info("offline agent running")
		if err := queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fail("run: %v", err)
		}
	}
}

// connectRedis retries until ctx is done. One-shot commands give up after
// OFFLINE_AGENT_REDIS_TIMEOUT (default 10s) instead of hanging.
func connectRedis(ctx context.Context, bounded bool) *redis.Client {
	if bounded {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.EnvDuration("OFFLINE_AGENT_REDIS_TIMEOUT", 10*time.Second))
		defer cancel()
	}
	config.ConnectRedisWithRetry(ctx)
	return config.GetRedisDB()
}

func buildRemote(defaults offlinequeue.Defaults) (offlinequeue.RemoteStore, error) {
	if *remoteKind == "db" {
		config.ConnectDatabaseWithRetry()
		if config.GetDB() == nil {
			return nil, errors.New("database not initialized; set DB_* env vars")
		}
		return &offlinequeue.DBRemote{Store: models.NewStore(config.GetDB()), Defaults: defaults}, nil
	}
	return offlinequeue.NewHTTPRemote(*apiURL, *apiKey, defaults)
}

// healthURL maps https://host/terminal-api to https://host/healthz.
func healthURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if i := strings.Index(base, "://"); i >= 0 {
		if j := strings.Index(base[i+3:], "/"); j >= 0 {
			base = base[:i+3+j]
		}
	}
	return base + "/healthz"
}

type unavailableRemote struct{}

func (unavailableRemote) InsertTransaction(ctx context.Context, tx offlinequeue.Transaction) error {
	return errors.New("remote not configured for this command")
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
