package rtpconn

import (
	"sync"

	"github.com/arzzra/media_control/pkg/machine"
)

// Состояния соединения
const (
	StateIdle                       = "IDLE"
	StateOpening                    = "OPENING"
	StateParsingRemoteDescription   = "PARSING_REMOTE_DESCRIPTION"
	StateAllocatingSession          = "ALLOCATING_SESSION"
	StateSettingSessionMode         = "SETTING_SESSION_MODE"
	StateNegotiatingSession         = "NEGOTIATING_SESSION"
	StateGeneratingLocalDescription = "GENERATING_LOCAL_DESCRIPTION"
	StateOpen                       = "OPEN"
	StateUpdatingMode               = "UPDATING_MODE"
	StateUpdatingSessionMode        = "UPDATING_SESSION_MODE"
	StateSessionModeUpdated         = "SESSION_MODE_UPDATED"
	StateCorrupted                  = "CORRUPTED"
	StateClosing                    = "CLOSING"
	StateClosingSession             = "CLOSING_SESSION"
	StateClosedSession              = "CLOSED_SESSION"
	StateClosed                     = "CLOSED"
)

// События соединения
const (
	EventOpen                            = "OPEN"
	EventParsedRemoteDescription         = "PARSED_REMOTE_DESCRIPTION"
	EventParseRemoteDescriptionFailure   = "PARSE_REMOTE_DESCRIPTION_FAILURE"
	EventSessionAllocated                = "SESSION_ALLOCATED"
	EventSessionAllocationFailure        = "SESSION_ALLOCATION_FAILURE"
	EventSessionModeUpdated              = "SESSION_MODE_UPDATED"
	EventSessionModeUpdateFailure        = "SESSION_MODE_UPDATE_FAILURE"
	EventSessionNegotiated               = "SESSION_NEGOTIATED"
	EventSessionNegotiationFailure       = "SESSION_NEGOTIATION_FAILURE"
	EventGenerateLocalDescriptionFailure = "GENERATE_LOCAL_DESCRIPTION_FAILURE"
	EventOpened                          = "OPENED"
	EventUpdateMode                      = "UPDATE_MODE"
	EventModeUpdated                     = "MODE_UPDATED"
	EventClose                           = "CLOSE"
	EventSessionClosed                   = "SESSION_CLOSED"
	EventSessionCloseFailure             = "SESSION_CLOSE_FAILURE"
	EventClosed                          = "CLOSED"
	EventFailure                         = "FAILURE"
)

// definition строится один раз и разделяется всеми соединениями.
var definition = sync.OnceValue(func() *machine.Definition[*connectionContext] {
	b := machine.NewBuilder[*connectionContext]("rtp_connection", StateIdle).
		Group(StateOpening,
			StateParsingRemoteDescription,
			StateAllocatingSession,
			StateSettingSessionMode,
			StateNegotiatingSession,
			StateGeneratingLocalDescription).
		Group(StateUpdatingMode, StateUpdatingSessionMode, StateSessionModeUpdated).
		Group(StateClosing, StateClosingSession, StateClosedSession)

	// открытие
	b.Transition(EventOpen, StateOpening, StateIdle).
		Transition(EventParsedRemoteDescription, StateAllocatingSession, StateParsingRemoteDescription).
		Transition(EventSessionAllocated, StateSettingSessionMode, StateAllocatingSession).
		Transition(EventSessionModeUpdated, StateNegotiatingSession, StateSettingSessionMode).
		Transition(EventSessionNegotiated, StateGeneratingLocalDescription, StateNegotiatingSession).
		Transition(EventOpened, StateOpen, StateGeneratingLocalDescription)

	for _, failure := range []string{
		EventParseRemoteDescriptionFailure,
		EventSessionAllocationFailure,
		EventSessionModeUpdateFailure,
		EventSessionNegotiationFailure,
		EventGenerateLocalDescriptionFailure,
	} {
		b.Transition(failure, StateCorrupted, StateOpening).
			OnEvent(failure, storeFailure)
	}

	// смена режима
	b.Transition(EventUpdateMode, StateUpdatingMode, StateOpen).
		Transition(EventSessionModeUpdated, StateSessionModeUpdated, StateUpdatingSessionMode).
		Transition(EventModeUpdated, StateOpen, StateUpdatingMode).
		Transition(EventSessionModeUpdateFailure, StateCorrupted, StateUpdatingMode)

	// закрытие
	b.Transition(EventClose, StateClosed, StateIdle).
		Transition(EventClose, StateClosing, StateOpening, StateOpen, StateUpdatingMode, StateCorrupted).
		Internal(EventClose, StateClosing).
		Transition(EventSessionClosed, StateClosedSession, StateClosingSession).
		Transition(EventSessionCloseFailure, StateClosedSession, StateClosingSession).
		Transition(EventClosed, StateClosed, StateClosing)

	// исключения в переходах
	b.Transition(EventFailure, StateCorrupted, StateOpening, StateUpdatingMode, StateOpen).
		Internal(EventFailure, StateCorrupted).
		Transition(EventFailure, StateClosed, StateClosing)

	return b.Final(StateClosed).
		OnEvent(EventOpen, storeOpenRequest).
		OnEvent(EventParsedRemoteDescription, storeRemoteDescription).
		OnEvent(EventSessionAllocated, storeSession).
		OnEvent(EventSessionModeUpdated, storeMode).
		OnEvent(EventOpened, storeLocalDescription).
		OnEvent(EventUpdateMode, storeUpdateRequest).
		OnEvent(EventClose, storeCloseCallback).
		OnEvent(EventSessionClosed, releaseSession).
		OnEvent(EventSessionCloseFailure, releaseSession).
		OnEvent(EventFailure, storeFailure).
		OnEnter(StateParsingRemoteDescription, parseRemoteDescription).
		OnEnter(StateAllocatingSession, allocateSession).
		OnEnter(StateSettingSessionMode, setSessionMode).
		OnEnter(StateNegotiatingSession, negotiateSession).
		OnEnter(StateGeneratingLocalDescription, generateLocalDescription).
		OnEnter(StateOpen, enterOpen).
		OnEnter(StateUpdatingSessionMode, updateSessionMode).
		OnEnter(StateSessionModeUpdated, sessionModeUpdated).
		OnEnter(StateCorrupted, enterCorrupted).
		OnEnter(StateClosing, enterClosing).
		OnEnter(StateClosingSession, closeSession).
		OnEnter(StateClosedSession, func(m *machine.Machine[*connectionContext], _ machine.Transition) error {
			m.FireName(EventClosed, nil)
			return nil
		}).
		OnEnter(StateClosed, enterClosed).
		OnFailure(EventFailure).
		OnDeclined(closeLateSession).
		Build()
})
