// Copyright 2016 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestIsSerializationConflict(t *testing.T) {
	for _, tc := range []struct {
		desc string
		err  error
		want bool
	}{
		{desc: "nil", err: nil, want: false},
		{desc: "other-error", err: errors.New("boom"), want: false},
		{desc: "deadlock", err: &mysql.MySQLError{Number: mysqlSerializationFailure}, want: true},
		{desc: "lock-wait-timeout", err: &mysql.MySQLError{Number: mysqlLockWaitTimeout}, want: true},
		{desc: "wrapped-deadlock", err: wrapErr(&mysql.MySQLError{Number: mysqlSerializationFailure}), want: true},
		{desc: "unrelated-mysql-error", err: &mysql.MySQLError{Number: 1062}, want: false},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			if got := isSerializationConflict(tc.err); got != tc.want {
				t.Errorf("isSerializationConflict(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func wrapErr(err error) error {
	return &userError{err: err}
}

func TestBytesEqual(t *testing.T) {
	for _, tc := range []struct {
		desc   string
		a, b   []byte
		want   bool
	}{
		{desc: "equal", a: []byte("abc"), b: []byte("abc"), want: true},
		{desc: "different-length", a: []byte("abc"), b: []byte("ab"), want: false},
		{desc: "different-content", a: []byte("abc"), b: []byte("abd"), want: false},
		{desc: "both-empty", a: nil, b: []byte{}, want: true},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			if got := bytesEqual(tc.a, tc.b); got != tc.want {
				t.Errorf("bytesEqual(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestLogIDHex(t *testing.T) {
	var id LogID
	id[0] = 0xAB
	id[31] = 0xCD
	want := "ab" + "000000000000000000000000000000000000000000000000000000000000" + "cd"
	if got := id.Hex(); got != want {
		t.Errorf("LogID.Hex() = %q, want %q", got, want)
	}
}
