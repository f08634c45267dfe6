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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/carverauto/rclink/pkg/logger"
	"github.com/carverauto/rclink/pkg/models"
)

var (
	errNotPointer     = errors.New("destination must be a non-nil pointer to a struct")
	errUnsupportedEnv = errors.New("unsupported field type for environment variable")
)

var (
	durationType      = reflect.TypeOf(time.Duration(0))
	modelDurationType = reflect.TypeOf(models.Duration(0))
)

// EnvConfigLoader loads configuration from environment variables.
//
// A JSON document in <prefix>CONFIG_JSON is applied first. Individual fields
// are then overridden by <prefix><JSON_PATH>, where nested struct names are
// joined with underscores, for example RCLINK_POLL_INTERVAL or
// RCLINK_NATS_URL.
type EnvConfigLoader struct {
	logger logger.Logger
	prefix string
}

// NewEnvConfigLoader returns an env loader using prefix.
func NewEnvConfigLoader(log logger.Logger, prefix string) *EnvConfigLoader {
	return &EnvConfigLoader{logger: log, prefix: prefix}
}

// Load implements ConfigLoader.
func (e *EnvConfigLoader) Load(_ context.Context, _ string, dst interface{}) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return errNotPointer
	}

	if raw := os.Getenv(e.prefix + "CONFIG_JSON"); raw != "" {
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return fmt.Errorf("failed to unmarshal %sCONFIG_JSON: %w", e.prefix, err)
		}
	}

	return e.loadStruct(v.Elem(), e.prefix)
}

func (e *EnvConfigLoader) loadStruct(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name := envName(field)
		if name == "" {
			continue
		}

		fv := v.Field(i)
		key := prefix + name

		switch {
		case fv.Kind() == reflect.Struct:
			if err := e.loadStruct(fv, key+"_"); err != nil {
				return err
			}

			continue
		case fv.Kind() == reflect.Ptr && fv.Type().Elem().Kind() == reflect.Struct:
			if !hasPrefixedEnv(key + "_") {
				continue
			}

			if fv.IsNil() {
				fv.Set(reflect.New(fv.Type().Elem()))
			}

			if err := e.loadStruct(fv.Elem(), key+"_"); err != nil {
				return err
			}

			continue
		}

		raw, ok := os.LookupEnv(key)
		if !ok {
			continue
		}

		if err := setField(fv, raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}

		if e.logger != nil {
			e.logger.Debug().Str("env", key).Msg("Applied environment override")
		}
	}

	return nil
}

func envName(field reflect.StructField) string {
	name := field.Name

	if tag := field.Tag.Get("json"); tag != "" {
		tagName := strings.Split(tag, ",")[0]
		if tagName == "-" {
			return ""
		}

		if tagName != "" {
			name = tagName
		}
	}

	return strings.ToUpper(name)
}

func hasPrefixedEnv(prefix string) bool {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, prefix) {
			return true
		}
	}

	return false
}

func setField(fv reflect.Value, raw string) error {
	switch fv.Type() {
	case durationType, modelDurationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}

		fv.SetInt(int64(d))

		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}

		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, fv.Type().Bits())
		if err != nil {
			return err
		}

		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 0, fv.Type().Bits())
		if err != nil {
			return err
		}

		fv.SetUint(n)
	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.String {
			return json.Unmarshal([]byte(raw), fv.Addr().Interface())
		}

		var items []string

		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}

		fv.Set(reflect.ValueOf(items).Convert(fv.Type()))
	default:
		return fmt.Errorf("%w: %s", errUnsupportedEnv, fv.Type())
	}

	return nil
}
