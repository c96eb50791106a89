package broker

// Broker error codes the bridge emits or reacts to.
const (
	CodeOrderRejected      = 201
	CodeOrderNotFound      = 10147
	CodeNotConnected       = 504
	CodeConnectivityLost   = 1100
	CodeConnectivityBack   = 1101
	CodeConnectivityKept   = 1102
	CodeOrderMsgWarning    = 399
	CodeDelayedData        = 10167
	CodeOrderCancelled     = 202
	CodeFractionalDisabled = 10197
)

// IsFatal classifies a broker error code. Non-fatal codes are informational
// and routinely emitted during normal operation: the 2100-2199 farm status
// range, order message warnings, delayed data notices, connectivity notices
// and the cancel confirmation the broker sends alongside a Cancelled status.
func IsFatal(code int) bool {
	switch {
	case code >= 2100 && code < 2200:
		return false
	case code >= CodeConnectivityLost && code <= CodeConnectivityKept:
		return false
	}
	switch code {
	case CodeOrderMsgWarning, CodeDelayedData, CodeFractionalDisabled, CodeOrderCancelled:
		return false
	}
	return true
}
