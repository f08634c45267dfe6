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

package config

import (
	"context"

	"github.com/carverauto/rclink/pkg/logger"
)

// StartKVWatch calls onChange with every new non-empty value of key until
// ctx is done. Deletions are logged and skipped.
func StartKVWatch(ctx context.Context, store KVStore, key string, log logger.Logger, onChange func([]byte)) {
	if store == nil || key == "" || onChange == nil {
		return
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	go func() {
		ch, err := store.Watch(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("KV watch failed")
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-ch:
				if !ok {
					return
				}

				if len(data) == 0 {
					log.Info().Str("key", key).Msg("KV delete or empty update")
					continue
				}

				log.Info().Str("key", key).Msg("KV config updated")
				onChange(data)
			}
		}
	}()
}
