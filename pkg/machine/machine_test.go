package machine

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testContext struct {
	trace []string
}

type recorder struct {
	mu          sync.Mutex
	transitions []Transition
	declined    []string
	failed      []error
}

func (r *recorder) Transitioned(_ string, tr Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, tr)
}

func (r *recorder) Declined(_, state, event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.declined = append(r.declined, state+"/"+event)
}

func (r *recorder) Failed(_ string, _ Transition, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
}

func traceHook(label string) Hook[*testContext] {
	return func(m *Machine[*testContext], tr Transition) error {
		m.Context().trace = append(m.Context().trace, label)
		return nil
	}
}

func newTestDefinition() *Definition[*testContext] {
	return NewBuilder[*testContext]("test", "idle").
		Group("working", "step1", "step2").
		Transition("go", "working", "idle").
		Transition("next", "step2", "step1").
		Transition("done", "finished", "step2").
		Transition("stop", "idle", "working").
		Transition("boom", "broken", "idle").
		Transition("failure", "idle", "working", "broken").
		Internal("tick", "working").
		Final("finished").
		OnEnter("working", traceHook("enter working")).
		OnExit("working", traceHook("exit working")).
		OnEnter("step1", func(m *Machine[*testContext], tr Transition) error {
			m.Context().trace = append(m.Context().trace, "enter step1")
			m.FireName("next", nil)
			return nil
		}).
		OnExit("step1", traceHook("exit step1")).
		OnEnter("step2", traceHook("enter step2")).
		OnEnter("broken", func(*Machine[*testContext], Transition) error {
			panic("broken hook")
		}).
		OnEvent("tick", traceHook("tick")).
		OnEvent("stop", traceHook("stop action")).
		OnFailure("failure").
		Build()
}

func TestDefinitionDescribesStates(t *testing.T) {
	def := newTestDefinition()
	assert.Equal(t, "test", def.Name())
	assert.Equal(t, "idle", def.Initial())
	assert.True(t, def.IsFinal("finished"))
	assert.False(t, def.IsFinal("idle"))
	assert.Equal(t, "working", def.Parent("step1"))
	assert.Equal(t, "working", def.Parent("step2"))
	assert.Empty(t, def.Parent("idle"))

	m := New(def, &testContext{})
	m.Start()
	assert.Equal(t, def.Initial(), m.Current())
	m.FireName("go", nil)
	assert.Equal(t, "step2", m.Current())
	assert.True(t, m.In("working"))
	assert.False(t, m.In("idle"))
}

func TestMachineEnterExitOrder(t *testing.T) {
	m := New(newTestDefinition(), &testContext{})
	require.True(t, m.Start())
	require.False(t, m.Start(), "повторный Start не должен запускать автомат")

	m.FireName("go", nil)

	assert.Equal(t, "step2", m.Current())
	assert.True(t, m.In("working"))
	assert.Equal(t, []string{"enter working", "enter step1", "exit step1", "enter step2"}, m.Context().trace)

	m.Context().trace = nil
	m.FireName("tick", nil)
	assert.Equal(t, []string{"tick"}, m.Context().trace, "внутренний переход выполняет только действие")

	m.Context().trace = nil
	m.FireName("stop", nil)
	assert.Equal(t, "idle", m.Current())
	assert.Equal(t, []string{"exit working", "stop action"}, m.Context().trace)
}

func TestMachineDeclinedEventRejectsCallback(t *testing.T) {
	rec := &recorder{}
	m := New(newTestDefinition(), &testContext{}, WithObserver(rec))
	m.Start()

	var rejected error
	m.Fire(Event{Name: "done", Reject: func(err error) { rejected = err }})

	require.Error(t, rejected)
	assert.True(t, errors.Is(rejected, ErrIllegalState))
	assert.Contains(t, rejected.Error(), "operation done not allowed on state idle")
	assert.Equal(t, "idle", m.Current())
	assert.Equal(t, []string{"idle/done"}, rec.declined)
}

func TestMachineIgnoresEventsBeforeStart(t *testing.T) {
	m := New(newTestDefinition(), &testContext{})

	var rejected error
	m.Fire(Event{Name: "go", Reject: func(err error) { rejected = err }})

	assert.ErrorIs(t, rejected, ErrIllegalState)
	assert.Equal(t, "idle", m.Current())
	assert.Empty(t, m.Context().trace)
}

func TestMachineFinalStateTerminates(t *testing.T) {
	m := New(newTestDefinition(), &testContext{})
	m.Start()
	m.FireName("go", nil)
	m.FireName("done", nil)

	assert.True(t, m.IsTerminated())
	assert.Equal(t, "finished", m.Current())

	var rejected error
	m.Fire(Event{Name: "stop", Reject: func(err error) { rejected = err }})
	assert.ErrorIs(t, rejected, ErrIllegalState)
}

func TestMachinePanicFiresFailureEvent(t *testing.T) {
	rec := &recorder{}
	m := New(newTestDefinition(), &testContext{}, WithObserver(rec))
	m.Start()

	assert.NotPanics(t, func() { m.FireName("boom", nil) })

	assert.Equal(t, "idle", m.Current(), "событие отказа должно вернуть автомат в idle")
	require.Len(t, rec.failed, 1)
	assert.ErrorIs(t, rec.failed[0], ErrTransitionFailed)
	assert.Contains(t, rec.failed[0].Error(), "broken hook")
}

func TestMachineQueuesEventsFromConcurrentGoroutines(t *testing.T) {
	var mu sync.Mutex
	count := 0
	def := NewBuilder[*testContext]("counter", "on").
		Internal("inc", "on").
		OnEvent("inc", func(*Machine[*testContext], Transition) error {
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		}).
		Build()

	m := New(def, &testContext{})
	m.Start()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.FireName("inc", nil)
		}()
	}
	wg.Wait()

	// Fire, заставший очередь пустой, разбирает ее до конца, поэтому после Wait все события обработаны.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 50, count)
}
