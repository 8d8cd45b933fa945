// SPDX-License-Identifier: Unlicense OR MIT

package task

import (
	"fmt"
	"sync"
	"testing"
)

func mustPanic(t *testing.T, want string, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("no panic, want %q", want)
		}
		if _, ok := r.(error); !ok {
			t.Fatalf("panic value %T is not an error", r)
		}
		if got := fmt.Sprint(r); got != want {
			t.Fatalf("panic %q, want %q", got, want)
		}
	}()
	f()
}

func ready(cx *Context) Poll { return Ready }

func TestIDsUnique(t *testing.T) {
	const (
		workers   = 8
		perWorker = 10000 / workers
	)
	ids := make(chan ID, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				ids <- New(FutureFunc(ready)).ID()
			}
		}()
	}
	wg.Wait()
	close(ids)
	seen := make(map[ID]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate %v", id)
		}
		seen[id] = true
	}
	if len(seen) != workers*perWorker {
		t.Errorf("got %d ids, want %d", len(seen), workers*perWorker)
	}
}

func TestIDsIncrease(t *testing.T) {
	prev := New(FutureFunc(ready)).ID()
	for i := 0; i < 10000; i++ {
		id := New(FutureFunc(ready)).ID()
		if id <= prev {
			t.Fatalf("id %v not after %v", id, prev)
		}
		prev = id
	}
}

func TestNewNilFuture(t *testing.T) {
	mustPanic(t, "task: nil future", func() {
		New(nil)
	})
}

func TestTaskPollPassesContext(t *testing.T) {
	w := WakerFunc(func() {})
	var got Waker
	tk := New(FutureFunc(func(cx *Context) Poll {
		got = cx.Waker()
		return Pending
	}))
	if p := tk.Poll(NewContext(w)); p != Pending {
		t.Errorf("Poll = %v, want Pending", p)
	}
	if got == nil {
		t.Fatal("future saw no waker")
	}
}

func TestStrings(t *testing.T) {
	tests := []struct {
		v    fmt.Stringer
		want string
	}{
		{Pending, "Pending"},
		{Ready, "Ready"},
		{Poll(7), "Poll(7)"},
		{ID(42), "task#42"},
	}
	for _, test := range tests {
		if got := test.v.String(); got != test.want {
			t.Errorf("String() = %q, want %q", got, test.want)
		}
	}
}
