package pixel

import (
	"errors"
	"testing"
)

func TestDecodeReportsNotImplemented(t *testing.T) {
	_, err := Decode(FormatBC7, 4, 4, make([]byte, BlockSize(FormatBC7)))
	if !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("Decode(BC7) = %v, want ErrNotImplemented", err)
	}
}

func TestEncodeReportsNotImplemented(t *testing.T) {
	_, err := Encode(FormatRGBA8, 1, 1, []byte{0, 0, 0, 0})
	if !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("Encode(RGBA8) = %v, want ErrNotImplemented", err)
	}
}

func TestBlockSize(t *testing.T) {
	for _, tt := range []struct {
		f    Format
		want int
	}{
		{FormatBC1, 8},
		{FormatBC3, 16},
		{FormatRGBA8, 0},
	} {
		if got := BlockSize(tt.f); got != tt.want {
			t.Errorf("BlockSize(%s) = %d, want %d", tt.f, got, tt.want)
		}
	}
}
