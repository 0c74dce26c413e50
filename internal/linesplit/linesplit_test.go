package linesplit

import (
	"reflect"
	"testing"
)

func TestSplitterAcrossChunks(t *testing.T) {
	var lines []string
	s := New(func(l string) { lines = append(lines, l) })
	s.Feed([]byte("hel"))
	s.Feed([]byte("lo\nwor"))
	s.Feed([]byte("ld\n"))
	want := []string{"hello", "world"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("got %v, want %v", lines, want)
	}
}

func TestSplitterFlush(t *testing.T) {
	var lines []string
	s := New(func(l string) { lines = append(lines, l) })
	s.Feed([]byte("trailing"))
	s.Flush()
	want := []string{"trailing"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("got %v, want %v", lines, want)
	}
}
