package domain

import "fmt"

// BrokerError carries a broker-originated failure with its response codes
// preserved so callers can distinguish failure classes with errors.As
// rather than string-matching a message.
type BrokerError struct {
	RtCode  string
	MsgCode string
	Message string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker error [%s/%s]: %s", e.RtCode, e.MsgCode, e.Message)
}
