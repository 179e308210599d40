package orchestrator

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

const revertPrefix = "execution reverted"

// RevertReason extracts a human revert message from an RPC error. It prefers
// the ABI-encoded Error(string) payload carried in JSON-RPC error data and
// falls back to the text after "execution reverted".
func RevertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if raw, decErr := hexutil.Decode(s); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason, true
				}
			}
		}
	}
	msg := err.Error()
	i := strings.Index(msg, revertPrefix)
	if i < 0 {
		return "", false
	}
	rest := strings.TrimLeft(msg[i+len(revertPrefix):], ": ")
	if rest == "" {
		return revertPrefix, true
	}
	return rest, true
}

// isUserRejection reports whether the signer declined the request.
func isUserRejection(err error) bool {
	if errors.Is(err, domain.ErrUserRejected) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "user rejected") || strings.Contains(msg, "user denied")
}

// classifyWrite maps a write submission error to an ErrorKind and reason.
func classifyWrite(err error) (domain.ErrorKind, string) {
	if isUserRejection(err) {
		return domain.KindUserRejected, "request rejected in wallet"
	}
	if reason, ok := RevertReason(err); ok {
		return domain.KindReverted, reason
	}
	return domain.KindUnknown, err.Error()
}
