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

package database

import (
	"context"
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
)

var slowOperationColors = map[string]*color.Color{
	"SELECT": color.New(color.BgGreen, color.FgHiWhite),
	"INSERT": color.New(color.BgBlue, color.FgHiWhite),
	"UPDATE": color.New(color.BgYellow, color.FgHiWhite),
	"DELETE": color.New(color.BgMagenta, color.FgHiWhite),
}

// slowQueryHook warns about statements slower than slowTime.
type slowQueryHook struct {
	slowTime time.Duration
	logger   Logger
}

var _ bun.QueryHook = (*slowQueryHook)(nil)

func (h *slowQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *slowQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if event.Err != nil {
		return
	}
	h.observe(event.Operation(), event.Query, time.Since(event.StartTime))
}

func (h *slowQueryHook) observe(operation, query string, duration time.Duration) {
	if h.logger == nil || duration <= h.slowTime {
		return
	}
	h.logger.Warn(color.YellowString("Database slow query detected"),
		"duration", duration.Round(time.Microsecond),
		"slow_threshold", h.slowTime,
		"query", colorizeOperation(operation, query),
	)
}

func colorizeOperation(operation, query string) string {
	c, ok := slowOperationColors[operation]
	if !ok {
		c = color.New(color.BgRed, color.FgHiWhite)
	}
	return c.Sprint(query)
}
