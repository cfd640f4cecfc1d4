package ack

import (
	"bytes"
	"testing"
)

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 2, 63, 64, 127, 128, 300, 1 << 20, 1 << 40, 1<<64 - 1}
	for _, v := range values {
		enc := AppendVarint(nil, v)
		if len(enc) != VarintLen(v) {
			t.Errorf("VarintLen(%d)=%d, encoded length=%d", v, VarintLen(v), len(enc))
		}
		got, n, err := ReadVarint(enc)
		if err != nil {
			t.Fatalf("ReadVarint(%v): %v", enc, err)
		}
		if n != len(enc) {
			t.Errorf("ReadVarint consumed %d, want %d", n, len(enc))
		}
		if got != v {
			t.Errorf("ReadVarint roundtrip: got %d, want %d", got, v)
		}
	}
}

func TestVarintTruncated(t *testing.T) {
	enc := AppendVarint(nil, 1<<20)
	_, _, err := ReadVarint(enc[:len(enc)-1])
	if err != ErrVarintTruncated {
		t.Errorf("got err=%v, want ErrVarintTruncated", err)
	}
}

func TestVarintAppendMultiple(t *testing.T) {
	var buf []byte
	buf = AppendVarint(buf, 1)
	buf = AppendVarint(buf, 300)
	buf = AppendVarint(buf, 0)
	v1, n1, err := ReadVarint(buf)
	if err != nil || v1 != 1 {
		t.Fatalf("v1=%d err=%v", v1, err)
	}
	v2, n2, err := ReadVarint(buf[n1:])
	if err != nil || v2 != 300 {
		t.Fatalf("v2=%d err=%v", v2, err)
	}
	v3, _, err := ReadVarint(buf[n1+n2:])
	if err != nil || v3 != 0 {
		t.Fatalf("v3=%d err=%v", v3, err)
	}
	if !bytes.Equal(buf[:n1], []byte{1}) {
		t.Errorf("single-byte varint encoding changed: %v", buf[:n1])
	}
}
