package tftpd

import (
	"testing"
	"time"
)

func TestNegotiateDropsOutOfRangeBlockSize(t *testing.T) {
	raw := RawOptions{"blksize": "999999"}
	limits := Limits{BlockSizeLimit: 4096, Timeout: 3 * time.Second}

	opts, survived := Negotiate(raw, limits, nil)

	// Out of range: silently dropped, not clamped to the limit.
	if opts.BlockSize != DefaultBlockSize {
		t.Errorf("BlockSize = %d, want default %d", opts.BlockSize, DefaultBlockSize)
	}
	if NeedsOAck(survived) {
		t.Errorf("survived should be empty, got %v", survived)
	}
}

func TestNegotiateAcceptsInRangeOptions(t *testing.T) {
	raw := RawOptions{"blksize": "1024", "windowsize": "4", "timeout": "5"}
	limits := Limits{BlockSizeLimit: 65464, Timeout: 3 * time.Second}

	opts, survived := Negotiate(raw, limits, nil)

	if opts.BlockSize != 1024 {
		t.Errorf("BlockSize = %d, want 1024", opts.BlockSize)
	}
	if opts.WindowSize != 4 {
		t.Errorf("WindowSize = %d, want 4", opts.WindowSize)
	}
	if !NeedsOAck(survived) {
		t.Errorf("survived should be non-empty")
	}
	for _, name := range []string{"blksize", "windowsize", "timeout"} {
		if _, ok := survived.Get(name); !ok {
			t.Errorf("survived missing %q", name)
		}
	}
}

func TestNegotiateIgnoredOptionsAreDropped(t *testing.T) {
	raw := RawOptions{"blksize": "1024"}
	limits := Limits{BlockSizeLimit: 65464, Timeout: 3 * time.Second, IgnoreBlockSize: true}

	opts, survived := Negotiate(raw, limits, nil)

	if opts.BlockSize != DefaultBlockSize {
		t.Errorf("BlockSize = %d, want default when ignored", opts.BlockSize)
	}
	if NeedsOAck(survived) {
		t.Errorf("survived should be empty when the only option is ignored")
	}
}

func TestNegotiateTsizeZeroFillsKnownSize(t *testing.T) {
	raw := RawOptions{"tsize": "0"}
	limits := Limits{Timeout: 3 * time.Second}
	size := uint64(12345)

	opts, survived := Negotiate(raw, limits, &size)

	if opts.TransferSize == nil || *opts.TransferSize != size {
		t.Fatalf("TransferSize = %v, want %d", opts.TransferSize, size)
	}
	if v, ok := survived.Get("tsize"); !ok || v != "12345" {
		t.Errorf("survived tsize = %q, %v, want 12345, true", v, ok)
	}
}

func TestNegotiateTsizeZeroOmittedWhenSizeUnknown(t *testing.T) {
	raw := RawOptions{"tsize": "0"}
	limits := Limits{Timeout: 3 * time.Second}

	opts, survived := Negotiate(raw, limits, nil)

	if opts.TransferSize != nil {
		t.Errorf("TransferSize = %v, want nil when size is unknown", opts.TransferSize)
	}
	if _, ok := survived.Get("tsize"); ok {
		t.Errorf("survived should omit tsize when size is unknown, got %v", survived)
	}
}

func TestNegotiateNoOptionsNoOAck(t *testing.T) {
	limits := Limits{Timeout: 3 * time.Second}

	opts, survived := Negotiate(nil, limits, nil)

	if NeedsOAck(survived) {
		t.Errorf("NeedsOAck should be false for an empty request")
	}
	if opts.BlockSize != DefaultBlockSize || opts.WindowSize != DefaultWindowSize {
		t.Errorf("opts = %+v, want all defaults", opts)
	}
}

func TestNegotiateOutOfRangeValuesAreNotEchoed(t *testing.T) {
	raw := RawOptions{"windowsize": "0", "timeout": "0", "blksize": "3"}
	limits := Limits{Timeout: 3 * time.Second}

	_, survived := Negotiate(raw, limits, nil)

	if len(survived) != 0 {
		t.Errorf("survived = %v, want empty (all values below minimum)", survived)
	}
}

func TestRawOptionsCaseInsensitiveSetGet(t *testing.T) {
	o := RawOptions{}
	o.Set("BlkSize", "512")

	v, ok := o.Get("BLKSIZE")
	if !ok || v != "512" {
		t.Errorf("Get(BLKSIZE) = %q, %v, want 512, true", v, ok)
	}
}
