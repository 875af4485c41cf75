// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package archive

import (
	"context"
	"sync"
	"testing"

	. "github.com/luci/luci-go/common/testing/assertions"
	. "github.com/smartystreets/goconvey/convey"
)

func TestParallelProcess(t *testing.T) {
	t.Parallel()

	Convey("every item runs when all succeed", t, func() {
		items := []string{"a.pna", "b.pna", "c.pna"}
		var mu sync.Mutex
		var seen []string
		err := ParallelProcess(context.Background(), items, 0, func(ctx context.Context, item string) error {
			mu.Lock()
			seen = append(seen, item)
			mu.Unlock()
			return nil
		})
		So(err, ShouldBeNil)
		So(len(seen), ShouldEqual, len(items))
	})

	Convey("the first failure is returned", t, func() {
		items := []string{"a.pna", "bad.pna", "c.pna"}
		err := ParallelProcess(context.Background(), items, 1, func(ctx context.Context, item string) error {
			if item == "bad.pna" {
				return errNamed(item)
			}
			return nil
		})
		So(err, ShouldErrLike, "bad.pna")
	})
}

type namedErr string

func (e namedErr) Error() string { return string(e) }

func errNamed(item string) error { return namedErr(item + ": boom") }
