package au

import (
	"strconv"

	"github.com/arzzra/media_control/pkg/mgcp"
)

// ReturnCode код возврата операции пакета AU
type ReturnCode int

const (
	ReturnSuccess             ReturnCode = 100
	ReturnUnspecifiedFailure  ReturnCode = 300
	ReturnBadAudioID          ReturnCode = 301
	ReturnProvisioningError   ReturnCode = 323
	ReturnHardwareFailure     ReturnCode = 324
	ReturnSyntaxError         ReturnCode = 325
	ReturnNoDigits            ReturnCode = 326
	ReturnNoSpeech            ReturnCode = 327
	ReturnSpokeTooLong        ReturnCode = 328
	ReturnDigitPatternFailure ReturnCode = 329
	ReturnMaxAttemptsExceeded ReturnCode = 330
)

func (rc ReturnCode) String() string { return strconv.Itoa(int(rc)) }

// Символы событий пакета
const (
	OperationCompleteSymbol = "oc"
	OperationFailedSymbol   = "of"
)

// Параметры событий oc/of
const (
	EventReturnCode     = "rc"
	EventAttempts       = "na"
	EventVoiceInterrupt = "vi"
	EventDigits         = "dc"
)

// OperationComplete событие AU/oc с кодом возврата.
func OperationComplete(rc ReturnCode) mgcp.Event {
	return mgcp.NewEvent(PackageName, OperationCompleteSymbol).With(EventReturnCode, rc.String())
}

// OperationFailed событие AU/of с кодом возврата.
func OperationFailed(rc ReturnCode) mgcp.Event {
	return mgcp.NewEvent(PackageName, OperationFailedSymbol).With(EventReturnCode, rc.String())
}
