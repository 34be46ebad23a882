/*
 * Copyright 2025 tomoncle.
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

package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON stores V in a text column as a JSON document. Use it for entity
// fields that hold structured data.
type JSON[T any] struct {
	V T
}

// JsonObject and JsonArray are the common shapes of JSON columns.
type (
	JsonObject = JSON[map[string]interface{}]
	JsonArray  = JSON[[]map[string]interface{}]
)

// Value implements driver.Valuer. The document is bound as a string so it
// lands in TEXT and JSON columns alike.
func (j JSON[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(j.V)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner. NULL leaves V at its zero value.
func (j *JSON[T]) Scan(value interface{}) error {
	var zero T
	j.V = zero
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, &j.V)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), &j.V)
	default:
		return fmt.Errorf("cannot scan %T into a JSON column", value)
	}
}
