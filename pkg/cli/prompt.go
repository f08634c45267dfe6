/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cli

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/carverauto/rclink/pkg/models"
)

// Sender delivers messages to a running program; *tea.Program implements it.
type Sender interface {
	Send(msg tea.Msg)
}

// Relay forwards messages to a Sender in order from its own goroutine, so
// callers never block on the program. It is also a session listener.
type Relay struct {
	target Sender

	mu     sync.Mutex
	queue  []tea.Msg
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
	closed bool
}

// NewRelay starts a relay to target.
func NewRelay(target Sender) *Relay {
	r := &Relay{
		target: target,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	go r.run()

	return r
}

// Send queues msg. Messages sent after Close are dropped.
func (r *Relay) Send(msg tea.Msg) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	r.queue = append(r.queue, msg)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// OnStatus implements session.Listener.
func (r *Relay) OnStatus(status models.ConnectionStatus) {
	r.Send(StatusMsg(status))
}

// Close stops the relay. Queued messages are discarded.
func (r *Relay) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.queue = nil
		r.mu.Unlock()

		close(r.done)
	})
}

func (r *Relay) run() {
	for {
		select {
		case <-r.done:
			return
		case <-r.wake:
		}

		for {
			r.mu.Lock()
			if len(r.queue) == 0 {
				r.mu.Unlock()
				break
			}

			msg := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()

			r.target.Send(msg)
		}
	}
}

// PromptRequester turns permission requests into operator prompts. Requests
// made before Attach are held and delivered once a sender is attached.
type PromptRequester struct {
	mu      sync.Mutex
	sender  Sender
	pending []models.Identity
}

// NewPromptRequester returns a requester with no sender attached.
func NewPromptRequester() *PromptRequester {
	return &PromptRequester{}
}

// Attach sets the sender receiving prompts and flushes held requests. The
// sender must not block; use a Relay in front of a tea.Program.
func (r *PromptRequester) Attach(sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sender = sender

	for _, id := range r.pending {
		sender.Send(PromptMsg{Identity: id})
	}

	r.pending = nil
}

// RequestPermission implements permission.Requester. The operator's answer
// arrives later through Controller.AnswerPermission.
func (r *PromptRequester) RequestPermission(_ context.Context, id models.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sender == nil {
		r.pending = append(r.pending, id)
		return nil
	}

	r.sender.Send(PromptMsg{Identity: id})

	return nil
}
