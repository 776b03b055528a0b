package sdpcodec

import "github.com/arzzra/media_control/pkg/rtpconn"

// Статические типы нагрузки RFC 3551 и telephone-event
var knownFormats = map[uint8]rtpconn.Format{
	0:   {PayloadType: 0, Name: "PCMU", ClockRate: 8000, Channels: 1},
	8:   {PayloadType: 8, Name: "PCMA", ClockRate: 8000, Channels: 1},
	9:   {PayloadType: 9, Name: "G722", ClockRate: 8000, Channels: 1},
	18:  {PayloadType: 18, Name: "G729", ClockRate: 8000, Channels: 1},
	101: {PayloadType: 101, Name: "telephone-event", ClockRate: 8000, Channels: 1},
}

// KnownFormat формат по типу нагрузки из таблицы известных
func KnownFormat(payloadType uint8) (rtpconn.Format, bool) {
	f, ok := knownFormats[payloadType]
	return f, ok
}
