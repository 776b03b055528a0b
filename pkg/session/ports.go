// Package session выделение локальных медиа сессий для RTP соединений:
// пары портов RTP/RTCP, режим и согласованные форматы. Сокеты здесь не открываются,
// транспорт медиа находится за пределами сигнального уровня.
package session

import (
	"fmt"
	"sync"
)

// PortRange диапазон портов RTP
type PortRange struct {
	Min int
	Max int
}

// Validate проверяет корректность диапазона портов
func (r PortRange) Validate() error {
	if r.Min < 1024 {
		return fmt.Errorf("минимальный порт не может быть меньше 1024 (привилегированные порты)")
	}
	if r.Max > 65535 {
		return fmt.Errorf("максимальный порт не может быть больше 65535")
	}
	if r.Min >= r.Max {
		return fmt.Errorf("минимальный порт должен быть меньше максимального: Min=%d, Max=%d", r.Min, r.Max)
	}
	if r.Max-r.Min < 2 {
		return fmt.Errorf("диапазон портов слишком мал для размещения пар RTP/RTCP")
	}
	return nil
}

// PortManager выделяет пары портов: RTP четный, RTCP = RTP + 1
type PortManager struct {
	portRange PortRange
	pairs     map[int]int // RTP port -> RTCP port
	next      int
	mutex     sync.Mutex
}

// NewPortManager создает менеджер портов
func NewPortManager(portRange PortRange) (*PortManager, error) {
	if err := portRange.Validate(); err != nil {
		return nil, err
	}
	return &PortManager{
		portRange: portRange,
		pairs:     make(map[int]int),
		next:      firstEven(portRange.Min),
	}, nil
}

func firstEven(port int) int {
	if port%2 != 0 {
		return port + 1
	}
	return port
}

// AllocatePortPair выделяет пару портов. Поиск продолжается с места
// последнего выделения, чтобы только что освобожденные порты не переиспользовались сразу.
func (pm *PortManager) AllocatePortPair() (rtpPort, rtcpPort int, err error) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	start := firstEven(pm.portRange.Min)
	total := pm.capacity()
	port := pm.next
	for i := 0; i < total; i++ {
		if port+1 > pm.portRange.Max {
			port = start
		}
		if _, used := pm.pairs[port]; !used {
			pm.pairs[port] = port + 1
			pm.next = port + 2
			return port, port + 1, nil
		}
		port += 2
	}

	return 0, 0, fmt.Errorf("не удалось найти свободную пару портов в диапазоне %d-%d",
		pm.portRange.Min, pm.portRange.Max)
}

// ReleasePortPair освобождает пару портов
func (pm *PortManager) ReleasePortPair(rtpPort, rtcpPort int) error {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	if expected, exists := pm.pairs[rtpPort]; !exists || expected != rtcpPort {
		return fmt.Errorf("порты %d и %d не являются выделенной парой", rtpPort, rtcpPort)
	}
	delete(pm.pairs, rtpPort)
	return nil
}

// Available количество свободных пар
func (pm *PortManager) Available() int {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	return pm.capacity() - len(pm.pairs)
}

// InUse количество выделенных пар
func (pm *PortManager) InUse() int {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	return len(pm.pairs)
}

func (pm *PortManager) capacity() int {
	start := firstEven(pm.portRange.Min)
	if pm.portRange.Max < start+1 {
		return 0
	}
	return (pm.portRange.Max-start-1)/2 + 1
}
