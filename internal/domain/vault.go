package domain

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/alanyoungcy/vaultswap/internal/units"
)

// Tristate is a boolean that may be unknown.
type Tristate int8

const (
	Unknown Tristate = iota
	Yes
	No
)

// TristateOf converts a plain bool.
func TristateOf(b bool) Tristate {
	if b {
		return Yes
	}
	return No
}

func (t Tristate) String() string {
	switch t {
	case Yes:
		return "true"
	case No:
		return "false"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes true, false or null.
func (t Tristate) MarshalJSON() ([]byte, error) {
	if t == Unknown {
		return []byte("null"), nil
	}
	return json.Marshal(t == Yes)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (t *Tristate) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Unknown
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}
	*t = TristateOf(b)
	return nil
}

// VaultPosition is the caller's position in the BTC vault wrapper. Staked
// principal and accrued yield are in vault precision.
type VaultPosition struct {
	VaultID         *big.Int     `json:"vault_id"`
	Staked          units.Amount `json:"staked"`
	YieldAccrued    units.Amount `json:"yield_accrued"`
	LastYieldUpdate *time.Time   `json:"last_yield_update"`
	LockTime        *time.Time   `json:"lock_time"`
	Active          Tristate     `json:"active"`
	// UnknownFields names raw tuple members that could not be parsed.
	UnknownFields []string `json:"unknown_fields,omitempty"`
}

// Exists reports whether the position was ever created on chain. A vault id
// of zero means the address never deposited.
func (p VaultPosition) Exists() bool {
	return p.VaultID != nil && p.VaultID.Sign() > 0
}

// VaultParams are the vault's yield parameters.
type VaultParams struct {
	SecondsPerYear *big.Int     `json:"seconds_per_year"`
	YieldRate      units.Amount `json:"yield_rate"`
}
