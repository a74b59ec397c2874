package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// HandlerTable is the subscription table shared by the backend
// implementations: channel name to ordered handler registrations. All
// mutation goes through Add/Remove/RemoveChannel under one lock so
// registrations are never lost to concurrent subscribe calls.
type HandlerTable struct {
	mu     sync.RWMutex
	nextID HandlerID
	regs   map[string][]registration
}

type registration struct {
	id HandlerID
	h  Handler
}

// NewHandlerTable creates an empty subscription table.
func NewHandlerTable() *HandlerTable {
	return &HandlerTable{regs: make(map[string][]registration)}
}

// Add registers a handler at the end of the channel's registration order.
func (t *HandlerTable) Add(channel string, h Handler) HandlerID {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	t.regs[channel] = append(t.regs[channel], registration{id: id, h: h})
	return id
}

// Remove deletes a single registration. It reports whether the id was found.
func (t *HandlerTable) Remove(channel string, id HandlerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	regs := t.regs[channel]
	for i, reg := range regs {
		if reg.id == id {
			t.regs[channel] = append(regs[:i:i], regs[i+1:]...)
			if len(t.regs[channel]) == 0 {
				delete(t.regs, channel)
			}
			return true
		}
	}
	return false
}

// RemoveChannel drops every registration for a channel and returns how many
// were removed.
func (t *HandlerTable) RemoveChannel(channel string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.regs[channel])
	delete(t.regs, channel)
	return n
}

// Dispatch delivers a payload to every handler registered for the channel in
// registration order. A handler error or panic does not prevent delivery to
// the remaining handlers. It returns the delivered and failed counts.
func (t *HandlerTable) Dispatch(ctx context.Context, channel string, payload []byte) (delivered, failed int) {
	t.mu.RLock()
	regs := make([]registration, len(t.regs[channel]))
	copy(regs, t.regs[channel])
	t.mu.RUnlock()

	for _, reg := range regs {
		if err := invoke(ctx, reg.h, channel, payload); err != nil {
			failed++
			continue
		}
		delivered++
	}
	return delivered, failed
}

func invoke(ctx context.Context, h Handler, channel string, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, channel, payload)
}

// Channels returns the channels with at least one registration, sorted.
func (t *HandlerTable) Channels() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	channels := make([]string, 0, len(t.regs))
	for channel := range t.regs {
		channels = append(channels, channel)
	}
	sort.Strings(channels)
	return channels
}

// Len returns the number of handlers registered for a channel.
func (t *HandlerTable) Len(channel string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.regs[channel])
}
