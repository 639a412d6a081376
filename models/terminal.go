package models

import (
	"encoding/json"
	"time"
)

const (
	TerminalStatusActive      = "active"
	TerminalStatusInactive    = "inactive"
	TerminalStatusMaintenance = "maintenance"
	TerminalStatusOffline     = "offline"
)

// Terminal holds the health record of a physical payment terminal.
// Rows are provisioned out of band and never deleted by the API.
type Terminal struct {
	ID               uint       `gorm:"primary_key" json:"id"`
	TerminalId       string     `gorm:"size:64;not null;uniqueIndex" json:"terminal_id"`
	SchoolId         string     `gorm:"size:64;not null;index" json:"school_id"`
	VendorId         string     `gorm:"size:64;index" json:"vendor_id"`
	Name             string     `gorm:"size:255" json:"name"`
	Status           string     `gorm:"size:32;not null;default:'inactive'" json:"status"`
	LastSyncAt       *time.Time `json:"last_sync_at"`
	FirmwareVersion  *string    `gorm:"size:64" json:"firmware_version"`
	BatteryLevel     *int       `json:"battery_level"`
	ConnectionStatus *string    `gorm:"size:32" json:"connection_status"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TerminalHealthUpdate carries the optional fields of a status push.
// Nil fields are left untouched.
type TerminalHealthUpdate struct {
	Status           *string
	LastSyncAt       *time.Time
	FirmwareVersion  *string
	BatteryLevel     *int
	ConnectionStatus *string
}

func (u TerminalHealthUpdate) toMap() map[string]interface{} {
	out := map[string]interface{}{}
	if u.Status != nil {
		out["status"] = *u.Status
	}
	if u.LastSyncAt != nil {
		out["last_sync_at"] = *u.LastSyncAt
	}
	if u.FirmwareVersion != nil {
		out["firmware_version"] = *u.FirmwareVersion
	}
	if u.BatteryLevel != nil {
		out["battery_level"] = *u.BatteryLevel
	}
	if u.ConnectionStatus != nil {
		out["connection_status"] = *u.ConnectionStatus
	}
	return out
}

// TerminalConfig is the per-terminal operating configuration served by /config.
type TerminalConfig struct {
	ID                        uint      `gorm:"primary_key" json:"id"`
	TerminalId                string    `gorm:"size:64;not null;uniqueIndex" json:"terminal_id"`
	SyncIntervalSeconds       int       `gorm:"not null;default:300" json:"sync_interval_seconds"`
	AllowedPaymentMethodsJSON []byte    `gorm:"type:json" json:"allowed_payment_methods_json"`
	PrintReceipt              bool      `gorm:"not null;default:true" json:"print_receipt"`
	TimeoutSeconds            int       `gorm:"not null;default:30" json:"timeout_seconds"`
	Debug                     bool      `gorm:"not null;default:false" json:"debug"`
	APIBaseURL                string    `gorm:"size:255" json:"api_base_url"`
	CreatedAt                 time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                 time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

var defaultPaymentMethods = []string{"credit", "debit", "pix", "cash"}

// DefaultTerminalConfig is served for terminals without a config row.
func DefaultTerminalConfig(terminalId string) TerminalConfig {
	return TerminalConfig{
		TerminalId:                terminalId,
		SyncIntervalSeconds:       300,
		AllowedPaymentMethodsJSON: EncodePaymentMethods(defaultPaymentMethods),
		PrintReceipt:              true,
		TimeoutSeconds:            30,
		Debug:                     false,
	}
}

func (c TerminalConfig) AllowedPaymentMethods() []string {
	if len(c.AllowedPaymentMethodsJSON) == 0 {
		return append([]string(nil), defaultPaymentMethods...)
	}
	var out []string
	if err := json.Unmarshal(c.AllowedPaymentMethodsJSON, &out); err != nil {
		return append([]string(nil), defaultPaymentMethods...)
	}
	return out
}

func EncodePaymentMethods(methods []string) []byte {
	b, _ := json.Marshal(methods)
	return b
}

// TerminalCredential is an API key. Only the sha256 hex of the raw key is
// stored. A key bound to a TerminalId may only act for that terminal; a key
// with an empty TerminalId is a school gateway key and may act for any
// terminal of SchoolId.
type TerminalCredential struct {
	ID         uint       `gorm:"primary_key" json:"id"`
	TerminalId string     `gorm:"size:64;index" json:"terminal_id"`
	SchoolId   string     `gorm:"size:64;not null;index" json:"school_id"`
	KeyPrefix  string     `gorm:"size:16;not null" json:"key_prefix"`
	KeyHash    string     `gorm:"size:64;not null;uniqueIndex" json:"-"`
	RevokedAt  *time.Time `gorm:"index" json:"revoked_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (c TerminalCredential) IsGateway() bool {
	return c.TerminalId == ""
}
