package config

import "testing"

func TestGetIntSlice(t *testing.T) {
	t.Setenv("TEST_PORTS", "80, 3000,5173,8080")
	got := GetIntSlice("TEST_PORTS", []int{1})
	want := []int{80, 3000, 5173, 8080}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestGetIntSliceFallbacks(t *testing.T) {
	fallback := []int{80}
	if got := GetIntSlice("TEST_PORTS_UNSET", fallback); len(got) != 1 || got[0] != 80 {
		t.Fatalf("expected fallback for unset var, got %v", got)
	}
	t.Setenv("TEST_PORTS_BAD", "80,abc")
	if got := GetIntSlice("TEST_PORTS_BAD", fallback); len(got) != 1 || got[0] != 80 {
		t.Fatalf("expected fallback for invalid value, got %v", got)
	}
}

func TestGetInt64(t *testing.T) {
	t.Setenv("TEST_BYTES", "209715200")
	if got := GetInt64("TEST_BYTES", 0); got != 209715200 {
		t.Fatalf("expected parsed value, got %d", got)
	}
	if got := GetInt64("TEST_BYTES_UNSET", 42); got != 42 {
		t.Fatalf("expected fallback, got %d", got)
	}
}
