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
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/rclink/pkg/models"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (r *recordingSender) Send(msg tea.Msg) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.msgs = append(r.msgs, msg)
}

func (r *recordingSender) snapshot() []tea.Msg {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]tea.Msg(nil), r.msgs...)
}

func TestPromptRequester_HoldsUntilAttached(t *testing.T) {
	req := NewPromptRequester()

	require.NoError(t, req.RequestPermission(context.Background(), "a"))
	require.NoError(t, req.RequestPermission(context.Background(), "b"))

	sender := &recordingSender{}
	req.Attach(sender)

	require.NoError(t, req.RequestPermission(context.Background(), "c"))

	assert.Equal(t, []tea.Msg{
		PromptMsg{Identity: "a"},
		PromptMsg{Identity: "b"},
		PromptMsg{Identity: "c"},
	}, sender.snapshot())
}

func TestRelay_PreservesOrder(t *testing.T) {
	sender := &recordingSender{}
	relay := NewRelay(sender)
	defer relay.Close()

	const n = 50

	for i := 0; i < n; i++ {
		relay.OnStatus(models.ConnectionStatus{Label: "status", SessionID: string(rune('A' + i%26))})
	}

	require.Eventually(t, func() bool {
		return len(sender.snapshot()) == n
	}, time.Second, 5*time.Millisecond)

	for i, msg := range sender.snapshot() {
		status, ok := msg.(StatusMsg)
		require.True(t, ok)
		assert.Equal(t, string(rune('A'+i%26)), status.SessionID)
	}
}

func TestRelay_DropsAfterClose(t *testing.T) {
	sender := &recordingSender{}
	relay := NewRelay(sender)

	relay.Close()
	relay.Close()
	relay.Send(PromptMsg{Identity: "late"})

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sender.snapshot())
}
