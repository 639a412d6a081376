// terminal-admin provisions terminals, manages their API keys and edits the
// per-terminal config served by the terminal API.
//
// Usage (DB_* and REDIS_* env as for the API):
//
//	go run ./cmd/terminal-admin provision --terminal T-100 --school SCH-1 --vendor CANTEEN-1
//	go run ./cmd/terminal-admin rotate-key --terminal T-100
//	go run ./cmd/terminal-admin set-config --terminal T-100 --sync-interval 120 --payment-method pix --payment-method cash
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/mmdatafocus/terminal_sync/config"
	"github.com/mmdatafocus/terminal_sync/models"
	"github.com/mmdatafocus/terminal_sync/workflow"
)

var (
	app = kingpin.New("terminal-admin", "Terminal registry and credential administration.")

	migrateCmd = app.Command("migrate", "Run AutoMigrate for the terminal tables.")

	provisionCmd      = app.Command("provision", "Register a terminal and issue its first API key.")
	provisionTerminal = provisionCmd.Flag("terminal", "Terminal id.").Required().String()
	provisionSchool   = provisionCmd.Flag("school", "Owning school id.").Required().String()
	provisionVendor   = provisionCmd.Flag("vendor", "Vendor (canteen) id.").String()
	provisionName     = provisionCmd.Flag("name", "Display name.").String()

	gatewayCmd    = app.Command("issue-gateway-key", "Issue a school gateway key that may act for any terminal of the school.")
	gatewaySchool = gatewayCmd.Flag("school", "School id.").Required().String()

	rotateCmd      = app.Command("rotate-key", "Revoke a terminal's keys and issue a new one.")
	rotateTerminal = rotateCmd.Flag("terminal", "Terminal id.").Required().String()

	revokeCmd      = app.Command("revoke-key", "Revoke keys by terminal or by key prefix.")
	revokeTerminal = revokeCmd.Flag("terminal", "Revoke every active key of this terminal.").String()
	revokePrefix   = revokeCmd.Flag("prefix", "Revoke the key shown with this prefix.").String()

	setConfigCmd      = app.Command("set-config", "Create or replace a terminal's config.")
	setConfigTerminal = setConfigCmd.Flag("terminal", "Terminal id.").Required().String()
	setConfigInterval = setConfigCmd.Flag("sync-interval", "Seconds between terminal syncs.").Default("300").Int()
	setConfigMethods  = setConfigCmd.Flag("payment-method", "Allowed payment method (repeatable).").Strings()
	setConfigReceipt  = setConfigCmd.Flag("print-receipt", "Print receipts.").Default("true").Bool()
	setConfigTimeout  = setConfigCmd.Flag("timeout", "Terminal request timeout in seconds.").Default("30").Int()
	setConfigDebug    = setConfigCmd.Flag("debug", "Enable terminal debug mode.").Bool()
	setConfigBaseURL  = setConfigCmd.Flag("api-base-url", "API base URL reported to the terminal.").String()

	requeueCmd = app.Command("requeue-events", "Move DEAD transaction events back to PENDING.")
	requeueIds = requeueCmd.Flag("id", "Event id (repeatable). Omit to requeue all DEAD events.").Ints()

	dispatchCmd = app.Command("dispatch-events", "Publish one batch of pending transaction events and exit.")
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fail("database not initialized (config.GetDB returned nil). Set DB_* env vars.")
	}
	config.ConnectRedisWithRetry(ctx)
	store := models.NewStore(db)

	switch command {
	case migrateCmd.FullCommand():
		if err := models.MigrateTable(db); err != nil {
			fail("migrate: %v", err)
		}
		fmt.Println("migrated")

	case provisionCmd.FullCommand():
		terminal := &models.Terminal{
			TerminalId: strings.TrimSpace(*provisionTerminal),
			SchoolId:   strings.TrimSpace(*provisionSchool),
			VendorId:   strings.TrimSpace(*provisionVendor),
			Name:       strings.TrimSpace(*provisionName),
			Status:     models.TerminalStatusInactive,
		}
		if err := store.CreateTerminal(ctx, terminal); err != nil {
			fail("provision: %v", err)
		}
		rawKey, cred, err := store.IssueCredential(ctx, terminal.TerminalId, terminal.SchoolId, false)
		if err != nil {
			fail("issue key: %v", err)
		}
		printKey(terminal.TerminalId, rawKey, cred)

	case gatewayCmd.FullCommand():
		rawKey, cred, err := store.IssueCredential(ctx, "", strings.TrimSpace(*gatewaySchool), false)
		if err != nil {
			fail("issue gateway key: %v", err)
		}
		printKey("gateway:"+cred.SchoolId, rawKey, cred)

	case rotateCmd.FullCommand():
		terminal, err := store.GetTerminal(ctx, strings.TrimSpace(*rotateTerminal))
		if err != nil {
			fail("rotate-key: %v", err)
		}
		rawKey, cred, err := store.IssueCredential(ctx, terminal.TerminalId, terminal.SchoolId, true)
		if err != nil {
			fail("rotate-key: %v", err)
		}
		printKey(terminal.TerminalId, rawKey, cred)

	case revokeCmd.FullCommand():
		var (
			n   int64
			err error
		)
		switch {
		case strings.TrimSpace(*revokePrefix) != "":
			n, err = store.RevokeCredentialByPrefix(ctx, strings.TrimSpace(*revokePrefix))
		case strings.TrimSpace(*revokeTerminal) != "":
			n, err = store.RevokeCredentials(ctx, strings.TrimSpace(*revokeTerminal))
		default:
			fail("revoke-key: --terminal or --prefix is required")
		}
		if err != nil {
			fail("revoke-key: %v", err)
		}
		fmt.Printf("revoked %d key(s)\n", n)

	case setConfigCmd.FullCommand():
		terminalId := strings.TrimSpace(*setConfigTerminal)
		if _, err := store.GetTerminal(ctx, terminalId); err != nil {
			fail("set-config: %v", err)
		}
		cfg := models.DefaultTerminalConfig(terminalId)
		cfg.SyncIntervalSeconds = *setConfigInterval
		cfg.PrintReceipt = *setConfigReceipt
		cfg.TimeoutSeconds = *setConfigTimeout
		cfg.Debug = *setConfigDebug
		cfg.APIBaseURL = strings.TrimSpace(*setConfigBaseURL)
		if len(*setConfigMethods) > 0 {
			cfg.AllowedPaymentMethodsJSON = models.EncodePaymentMethods(*setConfigMethods)
		}
		if err := store.SaveTerminalConfig(ctx, &cfg); err != nil {
			fail("set-config: %v", err)
		}
		fmt.Printf("config saved for %s\n", terminalId)

	case requeueCmd.FullCommand():
		n, err := workflow.RequeueDead(ctx, db, *requeueIds)
		if err != nil {
			fail("requeue-events: %v", err)
		}
		fmt.Printf("requeued %d event(s)\n", n)

	case dispatchCmd.FullCommand():
		n := workflow.NewOutboxDispatcher(db, config.GetLogger()).DispatchOnce(ctx)
		fmt.Printf("published %d event(s)\n", n)
	}
}

func printKey(owner, rawKey string, cred *models.TerminalCredential) {
	fmt.Printf("owner:      %s\n", owner)
	fmt.Printf("key prefix: %s\n", cred.KeyPrefix)
	fmt.Printf("api key:    %s\n", rawKey)
	fmt.Println("store this key now; it cannot be shown again")
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
