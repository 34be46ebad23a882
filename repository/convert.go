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
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	valuerType  = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
	timeType    = reflect.TypeOf(time.Time{})
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// assignValue stores a driver value into dv, converting between the loose
// types drivers return (MySQL's text protocol yields []byte for everything)
// and the field's Go type.
func assignValue(dv reflect.Value, src interface{}) error {
	if src == nil {
		dv.Set(reflect.Zero(dv.Type()))
		return nil
	}
	if dv.CanAddr() && dv.Addr().Type().Implements(scannerType) {
		return dv.Addr().Interface().(sql.Scanner).Scan(src)
	}
	if dv.Kind() == reflect.Pointer {
		elem := reflect.New(dv.Type().Elem())
		if err := assignValue(elem.Elem(), src); err != nil {
			return err
		}
		dv.Set(elem)
		return nil
	}
	if dv.Type() == timeType {
		t, err := asTime(src)
		if err != nil {
			return err
		}
		dv.Set(reflect.ValueOf(t))
		return nil
	}

	switch dv.Kind() {
	case reflect.String:
		dv.SetString(asString(src))
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := asInt64(src)
		if err != nil {
			return err
		}
		if dv.OverflowInt(n) {
			return fmt.Errorf("value %d overflows %s", n, dv.Type())
		}
		dv.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := asInt64(src)
		if err != nil {
			return err
		}
		if n < 0 || dv.OverflowUint(uint64(n)) {
			return fmt.Errorf("value %d overflows %s", n, dv.Type())
		}
		dv.SetUint(uint64(n))
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := asFloat64(src)
		if err != nil {
			return err
		}
		dv.SetFloat(f)
		return nil
	case reflect.Bool:
		b, err := asBool(src)
		if err != nil {
			return err
		}
		dv.SetBool(b)
		return nil
	case reflect.Slice:
		if dv.Type().Elem().Kind() == reflect.Uint8 {
			switch s := src.(type) {
			case []byte:
				dv.SetBytes(append([]byte(nil), s...))
				return nil
			case string:
				dv.SetBytes([]byte(s))
				return nil
			}
		}
	}

	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dv.Type()) {
		dv.Set(sv)
		return nil
	}
	if sv.Type().ConvertibleTo(dv.Type()) {
		dv.Set(sv.Convert(dv.Type()))
		return nil
	}
	return fmt.Errorf("cannot convert %T to %s", src, dv.Type())
}

func asString(src interface{}) string {
	switch s := src.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case time.Time:
		return s.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(src)
	}
}

func asInt64(src interface{}) (int64, error) {
	switch s := src.(type) {
	case int64:
		return s, nil
	case int:
		return int64(s), nil
	case int32:
		return int64(s), nil
	case uint64:
		return int64(s), nil
	case float64:
		return int64(s), nil
	case bool:
		if s {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(s)), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", src)
	}
}

func asFloat64(src interface{}) (float64, error) {
	switch s := src.(type) {
	case float64:
		return s, nil
	case float32:
		return float64(s), nil
	case int64:
		return float64(s), nil
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
	case string:
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", src)
	}
}

func asBool(src interface{}) (bool, error) {
	switch s := src.(type) {
	case bool:
		return s, nil
	case int64:
		return s != 0, nil
	case []byte:
		return strconv.ParseBool(strings.TrimSpace(string(s)))
	case string:
		return strconv.ParseBool(strings.TrimSpace(s))
	default:
		return false, fmt.Errorf("cannot convert %T to bool", src)
	}
}

func asTime(src interface{}) (time.Time, error) {
	var s string
	switch v := src.(type) {
	case time.Time:
		return v, nil
	case []byte:
		s = string(v)
	case string:
		s = v
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time.Time", src)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as time.Time", s)
}

// bindValue turns a field value into something every driver accepts as a
// query argument.
func bindValue(v reflect.Value) (interface{}, error) {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, nil
		}
		if !v.Type().Implements(valuerType) {
			v = v.Elem()
		}
	}
	if v.Type().Implements(valuerType) {
		return v.Interface().(driver.Valuer).Value()
	}
	return v.Interface(), nil
}

// plainValue turns a driver value into what the Row codec hands out.
func plainValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
