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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/dialect"
)

func TestToClause(t *testing.T) {
	tests := []struct {
		name string
		opts *FilterOptions
		want string
	}{
		{"nil", nil, ""},
		{"empty", &FilterOptions{}, ""},
		{"condition and limit", &FilterOptions{Condition: "a=1", Limit: 10, Offset: 5}, " WHERE a=1 LIMIT 5,10"},
		{"group only", &FilterOptions{GroupBy: "x"}, " GROUP BY x"},
		{"fixed order", &FilterOptions{OrderBy: "id DESC", GroupBy: "x", Condition: "a=1"}, " WHERE a=1 GROUP BY x ORDER BY id DESC"},
		{"offset without limit", &FilterOptions{Offset: 20}, ""},
		{"negative offset", &FilterOptions{Limit: 3, Offset: -1}, " LIMIT 0,3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToClause(tt.opts))
		})
	}
}

func TestToDialectClausePostgres(t *testing.T) {
	opts := &FilterOptions{Condition: "a=1", Limit: 10, Offset: 5}
	assert.Equal(t, " WHERE a=1 LIMIT 10 OFFSET 5", ToDialectClause(opts, dialect.PG))
	assert.Equal(t, " WHERE a=1 LIMIT 5,10", ToDialectClause(opts, dialect.SQLite))
}

func TestFilterOptionsAnd(t *testing.T) {
	base := NewFilterOptions("status=?", "open")
	combined := base.And(`"id" = ?`, 7)

	assert.Equal(t, `(status=?) AND "id" = ?`, combined.Condition)
	assert.Equal(t, []interface{}{"open", 7}, combined.Args)
	assert.Equal(t, "status=?", base.Condition, "receiver must stay untouched")
	assert.Len(t, base.Args, 1)

	var none *FilterOptions
	only := none.And("id = ?", 1)
	assert.Equal(t, "id = ?", only.Condition)
	assert.Equal(t, []interface{}{1}, only.Args)
}

func TestFilterOptionsFromMap(t *testing.T) {
	opts, err := FilterOptionsFromMap(nil)
	require.NoError(t, err)
	assert.Nil(t, opts)

	opts, err = FilterOptionsFromMap(map[string]interface{}{
		"condition": "name=?",
		"group_by":  "name",
		"orderBy":   "id",
		"limit":     float64(20),
		"offset":    "40",
		"args":      []interface{}{"bob"},
		"ignored":   true,
	})
	require.NoError(t, err)
	assert.Equal(t, &FilterOptions{
		Condition: "name=?",
		GroupBy:   "name",
		OrderBy:   "id",
		Limit:     20,
		Offset:    40,
		Args:      []interface{}{"bob"},
	}, opts)

	_, err = FilterOptionsFromMap(map[string]interface{}{"limit": "ten"})
	assert.Error(t, err)
	_, err = FilterOptionsFromMap(map[string]interface{}{"condition": 3})
	assert.Error(t, err)
	_, err = FilterOptionsFromMap(map[string]interface{}{"args": "bob"})
	assert.Error(t, err)
}

func TestPageRequestOptions(t *testing.T) {
	filter := &FilterOptions{Condition: "a=1", OrderBy: "name", Limit: 99}
	req := NewPageRequest(3, 20, filter, []string{"id ASC", "name DESC"})

	assert.Equal(t, 40, req.GetOffset())

	opts := req.Options()
	assert.Equal(t, " WHERE a=1 ORDER BY id ASC, name DESC LIMIT 40,20", ToClause(opts))

	count := req.CountOptions()
	assert.Equal(t, " WHERE a=1", ToClause(count))
	assert.Equal(t, 99, filter.Limit, "request filter must not be modified")

	defaults := NewDefaultPageRequest(0, 0)
	assert.Equal(t, 1, defaults.GetPage())
	assert.Equal(t, 10, defaults.GetPageSize())
	assert.Equal(t, " LIMIT 0,10", ToClause(defaults.Options()))
}

func TestPaginationPages(t *testing.T) {
	p := NewDefaultPagination[int](1, 10)
	assert.Equal(t, int64(0), p.Pages())
	p.Total = 21
	assert.Equal(t, int64(3), p.Pages())
	assert.NotNil(t, p.Items)
}

func TestJSONColumn(t *testing.T) {
	doc := JsonObject{V: map[string]interface{}{"k": "v"}}
	value, err := doc.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"k":"v"}`, value)

	var scanned JsonObject
	require.NoError(t, scanned.Scan([]byte(`{"n":1}`)))
	assert.Equal(t, float64(1), scanned.V["n"])

	require.NoError(t, scanned.Scan(nil))
	assert.Nil(t, scanned.V)

	assert.Error(t, scanned.Scan(42))
}
