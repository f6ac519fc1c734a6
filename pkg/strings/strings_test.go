package strings

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestBytesToString(t *testing.T) {
	b := []byte("hello world")
	s := BytesToString(b)

	if s != "hello world" {
		t.Errorf("expected 'hello world', got '%s'", s)
	}

	empty := BytesToString([]byte{})
	if empty != "" {
		t.Errorf("expected empty string, got '%s'", empty)
	}
}

func TestStringToBytes(t *testing.T) {
	b := StringToBytes("hello world")
	if string(b) != "hello world" {
		t.Errorf("expected 'hello world', got '%s'", string(b))
	}

	if empty := StringToBytes(""); empty != nil {
		t.Errorf("expected nil slice, got %v", empty)
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	b := []byte("cuboid")
	shared := BytesToString(b)
	cloned := Clone(shared)
	b[0] = 'C'

	if shared != "Cuboid" {
		t.Errorf("expected shared string to follow its buffer, got '%s'", shared)
	}
	if cloned != "cuboid" {
		t.Errorf("expected clone to keep original text, got '%s'", cloned)
	}
}

func TestBuilder(t *testing.T) {
	builder := NewBuilder(32)

	builder.WriteString("hello")
	_ = builder.WriteByte(' ')
	builder.WriteString("world")

	if result := builder.String(); result != "hello world" {
		t.Errorf("expected 'hello world', got '%s'", result)
	}
	if builder.Len() != 11 {
		t.Errorf("expected length 11, got %d", builder.Len())
	}

	builder.Reset()
	if builder.Len() != 0 {
		t.Errorf("expected length 0 after reset, got %d", builder.Len())
	}
}

func TestSprintf(t *testing.T) {
	if got := Sprintf("no args"); got != "no args" {
		t.Errorf("expected format returned as-is, got '%s'", got)
	}
	if got := Sprintf("%d errors during %s", 3, "build"); got != "3 errors during build" {
		t.Errorf("unexpected sprintf result '%s'", got)
	}
}

func TestValueToString(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, ""},
		{"a1", "a1"},
		{int64(-15), "-15"},
		{uint64(42), "42"},
		{2.5, "2.5"},
		{true, "true"},
		{decimal.RequireFromString("10.25"), "10.25"},
		{[]byte("raw"), "raw"},
		{struct{ A int }{1}, "{1}"},
	}
	for _, tt := range tests {
		if got := ValueToString(tt.in); got != tt.want {
			t.Errorf("ValueToString(%v) = '%s', want '%s'", tt.in, got, tt.want)
		}
	}
}
