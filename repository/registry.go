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

package repository

import (
	"fmt"
	"reflect"
	"sync"
)

var defaultRegistry = newCodecRegistry()

// codecRegistry stores one codec per entity type. Codecs are built at most
// once and shared by every repository of that type.
type codecRegistry struct {
	codecs map[reflect.Type]interface{}
	mutex  sync.RWMutex
}

func newCodecRegistry() *codecRegistry {
	r := &codecRegistry{codecs: make(map[reflect.Type]interface{})}
	r.codecs[reflect.TypeOf(Row(nil))] = Codec[Row](rowCodec{})
	return r
}

func (r *codecRegistry) get(t reflect.Type) (interface{}, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	c, ok := r.codecs[t]
	return c, ok
}

func (r *codecRegistry) put(t reflect.Type, codec interface{}) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.codecs[t] = codec
}

// RegisterCodec installs codec for entity type T, replacing the reflective
// codec repositories would otherwise build for it.
func RegisterCodec[T any](codec Codec[T]) {
	defaultRegistry.put(reflect.TypeOf((*T)(nil)).Elem(), codec)
}

// CodecFor returns the codec registered for T, building and registering the
// reflective struct codec on first use.
func CodecFor[T any]() (Codec[T], error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if c, ok := defaultRegistry.get(t); ok {
		codec, ok := c.(Codec[T])
		if !ok {
			return nil, fmt.Errorf("codec registered for %s has type %T", t, c)
		}
		return codec, nil
	}
	codec, err := newStructCodec[T]()
	if err != nil {
		return nil, err
	}
	defaultRegistry.put(t, Codec[T](codec))
	return codec, nil
}
