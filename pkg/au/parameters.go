// Package au пакет Advanced Audio (RFC 2897): параметры сигналов, коды возврата,
// события oc/of и сигналы воспроизведения и записи.
package au

// PackageName имя пакета в событиях и сигналах
const PackageName = "AU"

// Parameter параметр сигнала пакета AU
type Parameter int

const (
	Announcement Parameter = iota
	InitialPrompt
	Reprompt
	NoDigitsReprompt
	NoSpeechReprompt
	FailureAnnouncement
	SuccessAnnouncement
	NonInterruptiblePlay
	Speed
	Volume
	ClearDigitBuffer
	MaxDigits
	MinDigits
	DigitPattern
	FirstDigitTimer
	InterDigitTimer
	ExtraDigitTimer
	PreSpeechTimer
	PostSpeechTimer
	TotalRecordingLengthTimer
	RestartKey
	ReinputKey
	ReturnKey
	PositionKey
	StopKey
	StartInputKey
	EndInputKey
	IncludeEndInputKey
	NumberOfAttempts
	Iterations
	Interval
	Duration
)

var parameterSymbols = [...]string{
	Announcement:              "an",
	InitialPrompt:             "ip",
	Reprompt:                  "rp",
	NoDigitsReprompt:          "nd",
	NoSpeechReprompt:          "ns",
	FailureAnnouncement:       "fa",
	SuccessAnnouncement:       "sa",
	NonInterruptiblePlay:      "ni",
	Speed:                     "sp",
	Volume:                    "vl",
	ClearDigitBuffer:          "cb",
	MaxDigits:                 "mx",
	MinDigits:                 "mn",
	DigitPattern:              "dp",
	FirstDigitTimer:           "fdt",
	InterDigitTimer:           "idt",
	ExtraDigitTimer:           "edt",
	PreSpeechTimer:            "prt",
	PostSpeechTimer:           "pst",
	TotalRecordingLengthTimer: "rlt",
	RestartKey:                "rsk",
	ReinputKey:                "rik",
	ReturnKey:                 "rtk",
	PositionKey:               "psk",
	StopKey:                   "stk",
	StartInputKey:             "sik",
	EndInputKey:               "eik",
	IncludeEndInputKey:        "iek",
	NumberOfAttempts:          "na",
	Iterations:                "it",
	Interval:                  "iv",
	Duration:                  "du",
}

var symbolParameters = func() map[string]Parameter {
	m := make(map[string]Parameter, len(parameterSymbols))
	for p, s := range parameterSymbols {
		m[s] = Parameter(p)
	}
	return m
}()

// Symbol короткое обозначение параметра
func (p Parameter) Symbol() string {
	if p < 0 || int(p) >= len(parameterSymbols) {
		return ""
	}
	return parameterSymbols[p]
}

func (p Parameter) String() string { return p.Symbol() }

// FromSymbol находит параметр по обозначению.
func FromSymbol(symbol string) (Parameter, bool) {
	p, ok := symbolParameters[symbol]
	return p, ok
}

// whitelist строит функцию проверки параметра по списку поддерживаемых.
func whitelist(params ...Parameter) func(string) bool {
	allowed := make(map[Parameter]struct{}, len(params))
	for _, p := range params {
		allowed[p] = struct{}{}
	}
	return func(symbol string) bool {
		p, ok := FromSymbol(symbol)
		if !ok {
			return false
		}
		_, ok = allowed[p]
		return ok
	}
}
