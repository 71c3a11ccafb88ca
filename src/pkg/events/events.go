package events

import (
	"context"
	"sync"

	"github.com/bililive-tools/bililive-tools/src/instance"
	"github.com/bililive-tools/bililive-tools/src/interfaces"
	bilisentry "github.com/bililive-tools/bililive-tools/src/pkg/sentry"
)

type EventType string

type Event struct {
	Type   EventType
	Object interface{}
}

func NewEvent(eventType EventType, object interface{}) *Event {
	return &Event{
		Type:   eventType,
		Object: object,
	}
}

type EventListener struct {
	Handler func(event *Event)
}

func NewEventListener(handler func(event *Event)) *EventListener {
	return &EventListener{
		Handler: handler,
	}
}

type Dispatcher interface {
	interfaces.Module
	AddEventListener(eventType EventType, listener *EventListener)
	RemoveEventListener(eventType EventType, listener *EventListener)
	RemoveAllEventListener(eventType EventType)
	DispatchEvent(event *Event)
}

func NewDispatcher(ctx context.Context) Dispatcher {
	ed := &dispatcher{
		saver: make(map[EventType]map[*EventListener]bool),
	}
	if inst := instance.GetInstance(ctx); inst != nil {
		inst.EventDispatcher = ed
	}
	return ed
}

type dispatcher struct {
	lock  sync.RWMutex
	saver map[EventType]map[*EventListener]bool
}

func (e *dispatcher) Start(_ context.Context) error { return nil }

func (e *dispatcher) Close(_ context.Context) {}

func (e *dispatcher) AddEventListener(eventType EventType, listener *EventListener) {
	e.lock.Lock()
	defer e.lock.Unlock()
	listeners, ok := e.saver[eventType]
	if !ok {
		listeners = make(map[*EventListener]bool)
		e.saver[eventType] = listeners
	}
	listeners[listener] = true
}

func (e *dispatcher) RemoveEventListener(eventType EventType, listener *EventListener) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if listeners, ok := e.saver[eventType]; ok {
		delete(listeners, listener)
	}
}

func (e *dispatcher) RemoveAllEventListener(eventType EventType) {
	e.lock.Lock()
	defer e.lock.Unlock()
	delete(e.saver, eventType)
}

// DispatchEvent 将事件异步派发给所有监听者
// 派发顺序不保证，监听者内的 panic 由 sentry 包捕获，不会波及其他监听者
func (e *dispatcher) DispatchEvent(event *Event) {
	if event == nil {
		return
	}
	e.lock.RLock()
	listeners := make([]*EventListener, 0, len(e.saver[event.Type]))
	for listener := range e.saver[event.Type] {
		listeners = append(listeners, listener)
	}
	e.lock.RUnlock()
	for _, listener := range listeners {
		l := listener
		bilisentry.Go(func() { l.Handler(event) })
	}
}
