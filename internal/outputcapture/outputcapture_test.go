package outputcapture

import "testing"

func TestStreamWriteWithinCap(t *testing.T) {
	s := NewStream(10)
	n, err := s.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 5 {
		t.Errorf("Write returned n = %d, want 5", n)
	}
	if string(s.Bytes()) != "hello" {
		t.Errorf("Bytes() = %q, want %q", s.Bytes(), "hello")
	}
	if s.Truncated() {
		t.Error("Truncated() = true, want false")
	}
}

func TestStreamWriteExceedsCapTruncates(t *testing.T) {
	s := NewStream(5)
	n, err := s.Write([]byte("hello world"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len("hello world") {
		t.Errorf("Write returned n = %d, want %d (io.Writer contract: no short write error)", n, len("hello world"))
	}
	if string(s.Bytes()) != "hello" {
		t.Errorf("Bytes() = %q, want %q", s.Bytes(), "hello")
	}
	if !s.Truncated() {
		t.Error("Truncated() = false, want true")
	}
}

func TestStreamWriteAfterCapFull(t *testing.T) {
	s := NewStream(3)
	s.Write([]byte("abc"))
	s.Write([]byte("more"))

	if string(s.Bytes()) != "abc" {
		t.Errorf("Bytes() = %q, want %q", s.Bytes(), "abc")
	}
	if !s.Truncated() {
		t.Error("Truncated() = false, want true after writing past a full buffer")
	}
}

func TestStreamReset(t *testing.T) {
	s := NewStream(5)
	s.Write([]byte("hello world"))
	if !s.Truncated() {
		t.Fatal("expected Truncated() = true before Reset")
	}

	s.Reset()
	if len(s.Bytes()) != 0 {
		t.Errorf("Bytes() after Reset = %q, want empty", s.Bytes())
	}
	if s.Truncated() {
		t.Error("Truncated() after Reset = true, want false")
	}

	s.Write([]byte("ab"))
	if string(s.Bytes()) != "ab" {
		t.Errorf("Bytes() after reuse = %q, want %q", s.Bytes(), "ab")
	}
}

func TestPairResetClearsBothStreams(t *testing.T) {
	p := NewPair(5, 5)
	p.Stdout.Write([]byte("out"))
	p.Stderr.Write([]byte("err"))

	p.Reset()
	if len(p.Stdout.Bytes()) != 0 || len(p.Stderr.Bytes()) != 0 {
		t.Error("Pair.Reset() did not clear both streams")
	}
}

func TestStreamBytesReturnsCopy(t *testing.T) {
	s := NewStream(10)
	s.Write([]byte("hello"))
	got := s.Bytes()
	got[0] = 'X'

	if string(s.Bytes()) != "hello" {
		t.Error("mutating Bytes() result affected the stream's internal buffer")
	}
}
