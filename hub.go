/**
 * Copyright 2022 kmeaw
 *
 * Licensed under the GNU Affero General Public License (AGPL).
 *
 * This program is free software: you can redistribute it and/or modify it
 * under the terms of the GNU Affero General Public License as published by the
 * Free Software Foundation, version 3 of the License.
 *
 * This program is distributed in the hope that it will be useful, but WITHOUT
 * ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
 * FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public License
 * for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */
package main

import (
	"context"
	"sync"
	"time"

	"gamemod/memory"
)

// hubBacklog bounds how far a slow subscriber may fall behind before it
// starts missing events.
const hubBacklog = 256

type HubEvent struct {
	Seq      uint64    `json:"seq"`
	Kind     string    `json:"kind"`
	Pid      uint32    `json:"pid,omitempty"`
	LockID   int64     `json:"lock_id,omitempty"`
	Address  string    `json:"address,omitempty"`
	ThreadID uint32    `json:"thread_id,omitempty"`
	Time     time.Time `json:"time"`
}

type Hub struct {
	mu     *sync.Mutex
	cv     *sync.Cond
	events []HubEvent
	seq    uint64
}

func NewHub() *Hub {
	h := &Hub{}
	h.mu = new(sync.Mutex)
	h.cv = sync.NewCond(h.mu)
	return h
}

// Observe is a memory.Session observer.
func (h *Hub) Observe(ev memory.Event) {
	he := HubEvent{
		Kind:     string(ev.Kind),
		Pid:      ev.Pid,
		LockID:   int64(ev.LockID),
		ThreadID: ev.ThreadID,
		Time:     ev.Time,
	}
	if ev.Address != 0 {
		he.Address = hexAddr(ev.Address)
	}

	h.Broadcast(he)
}

func (h *Hub) Broadcast(event HubEvent) {
	h.mu.Lock()
	h.seq++
	event.Seq = h.seq
	h.events = append(h.events, event)
	if len(h.events) > hubBacklog {
		h.events = h.events[len(h.events)-hubBacklog:]
	}
	h.mu.Unlock()

	h.cv.Broadcast()
}

// Subscribe delivers every event broadcast after the call until ctx is
// done. The channel is closed then.
func (h *Hub) Subscribe(ctx context.Context) <-chan HubEvent {
	h.mu.Lock()
	next := h.seq + 1
	h.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		h.mu.Lock()
		h.cv.Broadcast()
		h.mu.Unlock()
	})

	ch := make(chan HubEvent)
	go func() {
		defer close(ch)
		defer stop()

		for {
			h.mu.Lock()
			for h.seq < next && ctx.Err() == nil {
				h.cv.Wait()
			}
			if ctx.Err() != nil {
				h.mu.Unlock()
				return
			}
			pending := h.since(next)
			h.mu.Unlock()

			for _, event := range pending {
				select {
				case <-ctx.Done():
					return
				case ch <- event:
				}
				next = event.Seq + 1
			}
		}
	}()

	return ch
}

func (h *Hub) since(seq uint64) []HubEvent {
	for i, event := range h.events {
		if event.Seq >= seq {
			return append([]HubEvent(nil), h.events[i:]...)
		}
	}
	return nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
