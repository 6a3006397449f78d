package config

import "time"

// AdmissionConfig holds the authentication and collateral policy.
type AdmissionConfig struct {
	CollateralSats int64         `mapstructure:"COLLATERAL_SATS" json:"collateral_sats" validate:"min=0"`
	InvoiceExpiry  time.Duration `mapstructure:"INVOICE_EXPIRY"  json:"invoice_expiry"  validate:"required,reasonable_duration"`
	AuthTimeout    time.Duration `mapstructure:"AUTH_TIMEOUT"    json:"auth_timeout"    validate:"required,timeout_duration"`

	// OperatorPubKey is the privileged identity that bypasses admission.
	// When empty it is derived from the key stored in OperatorKeyFile.
	OperatorPubKey  string `mapstructure:"OPERATOR_PUBKEY"   json:"operator_pubkey"   validate:"omitempty,pubkey"`
	OperatorKeyFile string `mapstructure:"OPERATOR_KEY_FILE" json:"operator_key_file" validate:"omitempty"`
}
