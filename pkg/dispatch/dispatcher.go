// Package dispatch секционированный исполнитель: задачи с одинаковым ключом
// выполняются по порядку в одной горутине секции, разные ключи распределяются
// по секциям через консистентное хеширование.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/serialx/hashring"
)

var (
	// ErrClosed диспетчер остановлен
	ErrClosed = errors.New("dispatcher is closed")
	// ErrQueueFull очередь секции переполнена
	ErrQueueFull = errors.New("partition queue is full")
)

// Config параметры диспетчера
type Config struct {
	Partitions int `mapstructure:"partitions"`
	QueueSize  int `mapstructure:"queue_size"`
}

// DefaultConfig конфигурация по умолчанию
func DefaultConfig() Config {
	return Config{Partitions: 4, QueueSize: 256}
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if c.Partitions <= 0 {
		return fmt.Errorf("количество секций должно быть положительным: %d", c.Partitions)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("размер очереди должен быть положительным: %d", c.QueueSize)
	}
	return nil
}

// Stats статистика диспетчера
type Stats struct {
	Submitted  int64
	Processed  int64
	Panics     int64
	Partitions int
	Queued     []int
}

type partition struct {
	id    int
	queue chan func()
}

// Dispatcher распределяет задачи по секциям
type Dispatcher struct {
	partitions []*partition
	nodes      []string
	ring       *hashring.HashRing
	logger     *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	submitted atomic.Int64
	processed atomic.Int64
	panics    atomic.Int64
}

// New запускает горутины секций
func New(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		partitions: make([]*partition, cfg.Partitions),
		nodes:      make([]string, cfg.Partitions),
		logger:     logger.With(slog.String("component", "dispatcher")),
	}
	for i := range d.nodes {
		d.nodes[i] = "partition-" + strconv.Itoa(i)
	}
	d.ring = hashring.New(d.nodes)

	for i := range d.partitions {
		p := &partition{id: i, queue: make(chan func(), cfg.QueueSize)}
		d.partitions[i] = p
		d.wg.Add(1)
		go d.run(p)
	}

	d.logger.Info("диспетчер запущен",
		slog.Int("partitions", cfg.Partitions),
		slog.Int("queue_size", cfg.QueueSize))
	return d, nil
}

// PartitionOf номер секции для ключа
func (d *Dispatcher) PartitionOf(key string) int {
	node, ok := d.ring.GetNode(key)
	if !ok {
		return 0
	}
	for i, n := range d.nodes {
		if n == node {
			return i
		}
	}
	return 0
}

// Submit ставит задачу в очередь секции ключа без ожидания.
func (d *Dispatcher) Submit(key string, task func()) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	id := d.PartitionOf(key)
	select {
	case d.partitions[id].queue <- task:
		d.submitted.Add(1)
		return nil
	default:
		return fmt.Errorf("%w: partition %d", ErrQueueFull, id)
	}
}

// Close перестает принимать задачи и дожидается выполнения уже поставленных.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, p := range d.partitions {
		close(p.queue)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("диспетчер остановлен",
		slog.Int64("submitted", d.submitted.Load()),
		slog.Int64("processed", d.processed.Load()))
	return nil
}

// Stats снимок статистики
func (d *Dispatcher) Stats() Stats {
	s := Stats{
		Submitted:  d.submitted.Load(),
		Processed:  d.processed.Load(),
		Panics:     d.panics.Load(),
		Partitions: len(d.partitions),
		Queued:     make([]int, len(d.partitions)),
	}
	for i, p := range d.partitions {
		s.Queued[i] = len(p.queue)
	}
	return s
}

func (d *Dispatcher) run(p *partition) {
	defer d.wg.Done()
	for task := range p.queue {
		d.execute(p, task)
	}
}

// execute выполняет задачу. Паника задачи логируется и не останавливает секцию.
func (d *Dispatcher) execute(p *partition, task func()) {
	defer func() {
		d.processed.Add(1)
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("паника в задаче",
				slog.Int("partition", p.id),
				slog.Any("panic", r))
		}
	}()
	task()
}
