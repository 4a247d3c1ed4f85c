package message

// Причины завершения и ошибок, которые видит UI
const (
	CauseTerminated          = "terminated"
	CauseBye                 = "bye"
	CauseCanceled            = "canceled"
	CauseBusy                = "busy"
	CauseRejected            = "rejected"
	CauseRedirected          = "redirected"
	CauseNotFound            = "not-found"
	CauseUnavailable         = "unavailable"
	CauseAddressIncomplete   = "address-incomplete"
	CauseIncompatibleSDP     = "incompatible-sdp"
	CauseAuthenticationError = "authentication-error"
	CauseRequestTimeout      = "request-timeout"
	CauseSIPFailure          = "sip-failure"
	CauseTransportLost       = "transport-lost"
	CauseConnectionError     = "connection-error"
	CauseInternalError       = "internal-error"
)

// CauseFromStatus сопоставляет финальный код ответа с причиной
func CauseFromStatus(code int) string {
	switch {
	case code >= 300 && code < 400:
		return CauseRedirected
	}
	switch code {
	case 486, 600:
		return CauseBusy
	case 403, 603:
		return CauseRejected
	case 404, 604:
		return CauseNotFound
	case 480, 410, 408, 430:
		return CauseUnavailable
	case 484, 424:
		return CauseAddressIncomplete
	case 488, 606:
		return CauseIncompatibleSDP
	case 401, 407:
		return CauseAuthenticationError
	case 487:
		return CauseCanceled
	}
	return CauseSIPFailure
}
