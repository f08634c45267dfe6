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

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Allow key.Binding
	Deny  key.Binding
	Copy  key.Binding
	Check key.Binding
	Retry key.Binding
	Quit  key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Allow: key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "allow")),
		Deny:  key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "deny")),
		Copy:  key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "copy identity")),
		Check: key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "force check")),
		Retry: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "retry permission")),
		Quit:  key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q/esc", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Copy, k.Check, k.Retry, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Allow, k.Deny}, k.ShortHelp()}
}
