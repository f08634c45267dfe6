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
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/carverauto/rclink/pkg/session"
)

// Subscriber registers session listeners.
type Subscriber interface {
	Subscribe(l session.Listener) *session.Subscription
}

// Run shows the watcher until the operator quits or ctx is done. A non-nil
// requester is attached so permission requests become prompts.
func Run(ctx context.Context, controller Controller, subscriber Subscriber, requester *PromptRequester, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, opts...)
	program := tea.NewProgram(NewModel(controller), opts...)

	relay := NewRelay(program)
	defer relay.Close()

	if requester != nil {
		requester.Attach(relay)
	}

	sub := subscriber.Subscribe(relay)
	defer sub.Unsubscribe()

	if _, err := program.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}

		return err
	}

	return nil
}
