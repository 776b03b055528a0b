// Package sdpcodec разбор и генерация описаний сессии (SDP) для RTP соединений.
package sdpcodec

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/media_control/pkg/rtpconn"
)

// ErrNoAudio в описании нет аудио медиа
var ErrNoAudio = errors.New("аудио медиа не найдено")

// Config параметры генерации описаний
type Config struct {
	Username    string
	SessionName string
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Username:    "-",
		SessionName: "media_control",
	}
}

// Codec реализует rtpconn.DescriptionCodec на github.com/pion/sdp/v3
type Codec struct {
	config Config
	// sessionVersion растет с каждым сгенерированным описанием
	sessionVersion atomic.Uint64
}

var _ rtpconn.DescriptionCodec = (*Codec)(nil)

// New создает кодек
func New(config Config) *Codec {
	if config.Username == "" {
		config.Username = "-"
	}
	if config.SessionName == "" {
		config.SessionName = "-"
	}
	c := &Codec{config: config}
	c.sessionVersion.Store(uint64(time.Now().Unix()))
	return c
}

// Parse разбирает и проверяет удаленное описание
func (c *Codec) Parse(raw string) (*sdp.SessionDescription, error) {
	desc := &sdp.SessionDescription{}
	if err := desc.UnmarshalString(raw); err != nil {
		return nil, fmt.Errorf("ошибка разбора SDP: %w", err)
	}
	if err := Validate(desc); err != nil {
		return nil, err
	}
	return desc, nil
}

// Generate создает локальное описание. Если remote не nil, описание строится
// как ответ: протоколы берутся из удаленного аудио медиа.
func (c *Codec) Generate(local rtpconn.SessionDescriptor, remote *sdp.SessionDescription) (string, error) {
	if local.Port <= 0 {
		return "", fmt.Errorf("некорректный локальный порт: %d", local.Port)
	}
	if len(local.Formats) == 0 {
		return "", fmt.Errorf("нет согласованных форматов")
	}

	protos := []string{"RTP", "AVP"}
	if remote != nil {
		audio, err := AudioMedia(remote)
		if err != nil {
			return "", err
		}
		protos = audio.MediaName.Protos
	}

	version := c.sessionVersion.Add(1)
	connection := &sdp.ConnectionInformation{
		NetworkType: "IN",
		AddressType: addressType(local.Address),
		Address:     &sdp.Address{Address: local.Address},
	}

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       c.config.Username,
			SessionID:      version,
			SessionVersion: version,
			NetworkType:    "IN",
			AddressType:    addressType(local.Address),
			UnicastAddress: local.Address,
		},
		SessionName:           sdp.SessionName(c.config.SessionName),
		ConnectionInformation: connection,
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	audio := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  "audio",
			Port:   sdp.RangedPort{Value: local.Port},
			Protos: protos,
		},
	}
	for _, f := range local.Formats {
		audio = audio.WithCodec(f.PayloadType, f.Name, f.ClockRate, f.Channels, "")
	}
	audio = audio.WithPropertyAttribute(local.Mode.Direction().String())
	if local.RTCPPort != 0 && local.RTCPPort != local.Port+1 {
		audio = audio.WithValueAttribute("rtcp", strconv.Itoa(local.RTCPPort))
	}
	desc = desc.WithMedia(audio)

	out, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации SDP: %w", err)
	}
	return string(out), nil
}

// Validate проверяет обязательные поля описания
func Validate(desc *sdp.SessionDescription) error {
	if desc == nil {
		return fmt.Errorf("SDP описание не может быть nil")
	}
	if desc.Version != 0 {
		return fmt.Errorf("неподдерживаемая версия SDP: %d", desc.Version)
	}
	if len(desc.MediaDescriptions) == 0 {
		return fmt.Errorf("отсутствуют медиа описания")
	}

	for i, media := range desc.MediaDescriptions {
		if err := validateMedia(media); err != nil {
			return fmt.Errorf("ошибка в медиа описании %d: %w", i, err)
		}
	}
	if _, err := AudioMedia(desc); err != nil {
		return err
	}
	if _, _, err := RemoteEndpoint(desc); err != nil {
		return err
	}
	return nil
}

func validateMedia(media *sdp.MediaDescription) error {
	if media.MediaName.Media == "" {
		return fmt.Errorf("отсутствует тип медиа")
	}
	if media.MediaName.Port.Value < 0 {
		return fmt.Errorf("некорректный порт: %d", media.MediaName.Port.Value)
	}
	if len(media.MediaName.Protos) == 0 {
		return fmt.Errorf("отсутствуют протоколы")
	}
	if len(media.MediaName.Formats) == 0 {
		return fmt.Errorf("отсутствуют форматы")
	}
	if media.ConnectionInformation != nil && media.ConnectionInformation.Address != nil {
		if net.ParseIP(media.ConnectionInformation.Address.Address) == nil {
			return fmt.Errorf("некорректный IP адрес: %s", media.ConnectionInformation.Address.Address)
		}
	}
	return nil
}

// AudioMedia возвращает первое аудио медиа описания
func AudioMedia(desc *sdp.SessionDescription) (*sdp.MediaDescription, error) {
	for _, media := range desc.MediaDescriptions {
		if media.MediaName.Media == "audio" {
			return media, nil
		}
	}
	return nil, ErrNoAudio
}

// RemoteEndpoint адрес и RTP порт удаленной стороны из аудио медиа.
// Адрес медиа уровня имеет приоритет над адресом сессии.
func RemoteEndpoint(desc *sdp.SessionDescription) (string, int, error) {
	audio, err := AudioMedia(desc)
	if err != nil {
		return "", 0, err
	}
	conn := audio.ConnectionInformation
	if conn == nil {
		conn = desc.ConnectionInformation
	}
	if conn == nil || conn.Address == nil || conn.Address.Address == "" {
		return "", 0, fmt.Errorf("не указан адрес соединения (c=)")
	}
	return conn.Address.Address, audio.MediaName.Port.Value, nil
}

// Direction атрибут направления аудио медиа, по умолчанию sendrecv
func Direction(media *sdp.MediaDescription) sdp.Direction {
	for _, attr := range media.Attributes {
		if d, err := sdp.NewDirection(attr.Key); err == nil {
			return d
		}
	}
	return sdp.DirectionSendRecv
}

// Formats форматы аудио медиа в порядке предпочтения удаленной стороны.
// Динамические типы берутся из rtpmap, статические из таблицы известных форматов.
func Formats(desc *sdp.SessionDescription) ([]rtpconn.Format, error) {
	audio, err := AudioMedia(desc)
	if err != nil {
		return nil, err
	}

	var formats []rtpconn.Format
	for _, f := range audio.MediaName.Formats {
		pt, err := strconv.ParseUint(f, 10, 8)
		if err != nil {
			continue
		}
		if codec, err := desc.GetCodecForPayloadType(uint8(pt)); err == nil && codec.Name != "" {
			channels := uint16(1)
			if n, err := strconv.ParseUint(codec.EncodingParameters, 10, 16); err == nil && n > 0 {
				channels = uint16(n)
			}
			formats = append(formats, rtpconn.Format{
				PayloadType: uint8(pt),
				Name:        codec.Name,
				ClockRate:   codec.ClockRate,
				Channels:    channels,
			})
			continue
		}
		if known, ok := KnownFormat(uint8(pt)); ok {
			formats = append(formats, known)
		}
	}
	return formats, nil
}

func addressType(address string) string {
	if ip := net.ParseIP(address); ip != nil && ip.To4() == nil {
		return "IP6"
	}
	return "IP4"
}
