package registry

import (
	"reflect"
	"testing"
)

func TestRingOrderAndEviction(t *testing.T) {
	r := NewRing[int](3)
	for _, v := range []int{1, 2, 3, 4, 5} {
		r.Add(v)
	}
	if got := r.Items(); !reflect.DeepEqual(got, []int{3, 4, 5}) {
		t.Fatalf("items = %v", got)
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d", r.Len())
	}
}

func TestRingBeforeFull(t *testing.T) {
	r := NewRing[string](5)
	r.Add("a")
	r.Add("b")
	if got := r.Items(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("items = %v", got)
	}
	if r.Len() != 2 {
		t.Fatalf("len = %d", r.Len())
	}
}
