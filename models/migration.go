package models

import (
	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Transaction{},
		&Terminal{}, &TerminalConfig{}, &TerminalCredential{},
		&TerminalSyncRun{}, &TerminalSyncError{},
		&TransactionEvent{},
	)
}
