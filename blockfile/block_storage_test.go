package blockfile

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStorage(t *testing.T, opts Options) *Storage {
	t.Helper()
	storage, err := NewStorage(NewMemStream(), opts)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	return storage
}

func TestOptionsValidation(t *testing.T) {
	cases := []struct {
		name string
		opts Options
	}{
		{"block too small", Options{BlockSize: 64, BlockHeaderSize: 48}},
		{"header too small", Options{BlockSize: 4096, BlockHeaderSize: 40}},
		{"header not multiple of 8", Options{BlockSize: 4096, BlockHeaderSize: 52}},
		{"header not smaller than block", Options{BlockSize: 128, BlockHeaderSize: 128}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewStorage(NewMemStream(), tc.opts); err == nil {
				t.Errorf("Expected error for %+v", tc.opts)
			}
		})
	}
}

func TestStorageRejectsMisalignedFile(t *testing.T) {
	stream := NewMemStream()
	if _, err := stream.WriteAt(make([]byte, 100), 0); err != nil {
		t.Fatalf("Failed to seed stream: %v", err)
	}
	if _, err := NewStorage(stream, Options{BlockSize: 128, BlockHeaderSize: 48}); !errors.Is(err, ErrCorrupted) {
		t.Errorf("Expected ErrCorrupted, got %v", err)
	}
}

func TestCreateNewAssignsDenseIDs(t *testing.T) {
	storage := newTestStorage(t, Options{BlockSize: 128, BlockHeaderSize: 48})

	for want := uint32(0); want < 5; want++ {
		block, err := storage.CreateNew()
		if err != nil {
			t.Fatalf("Failed to create block: %v", err)
		}
		if block.ID() != want {
			t.Errorf("Expected block id %d, got %d", want, block.ID())
		}
	}

	size, _ := storage.stream.Size()
	if size != 5*128 {
		t.Errorf("Expected file length 640, got %d", size)
	}
}

func TestFindPastEndReturnsNil(t *testing.T) {
	storage := newTestStorage(t, Options{BlockSize: 128, BlockHeaderSize: 48})

	if _, err := storage.CreateNew(); err != nil {
		t.Fatalf("Failed to create block: %v", err)
	}
	block, err := storage.Find(1)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if block != nil {
		t.Errorf("Expected nil block for id past end, got id %d", block.ID())
	}
}

func TestFindReturnsCachedInstance(t *testing.T) {
	storage := newTestStorage(t, Options{BlockSize: 128, BlockHeaderSize: 48})

	created, err := storage.CreateNew()
	if err != nil {
		t.Fatalf("Failed to create block: %v", err)
	}
	found, err := storage.Find(created.ID())
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if found != created {
		t.Errorf("Expected cached instance, got a different handle")
	}

	if err := created.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	reloaded, err := storage.Find(created.ID())
	if err != nil {
		t.Fatalf("Find after release failed: %v", err)
	}
	if reloaded == created {
		t.Errorf("Expected a fresh handle after release")
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	storage := newTestStorage(t, Options{BlockSize: 128, BlockHeaderSize: 48})

	block, err := storage.CreateNew()
	if err != nil {
		t.Fatalf("Failed to create block: %v", err)
	}
	if err := block.SetHeader(HeaderRecordLength, 1234); err != nil {
		t.Fatalf("SetHeader failed: %v", err)
	}
	if err := block.SetHeader(HeaderNextBlockID, -7); err != nil {
		t.Fatalf("SetHeader failed: %v", err)
	}

	got, err := block.Header(HeaderRecordLength)
	if err != nil {
		t.Fatalf("Header failed: %v", err)
	}
	if got != 1234 {
		t.Errorf("Expected 1234, got %d", got)
	}
	got, _ = block.Header(HeaderNextBlockID)
	if got != -7 {
		t.Errorf("Expected -7, got %d", got)
	}

	// Headers must survive release and reload.
	if err := block.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	reloaded, err := storage.Find(0)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	got, _ = reloaded.Header(HeaderRecordLength)
	if got != 1234 {
		t.Errorf("Expected persisted header 1234, got %d", got)
	}
}

func TestHeaderIndexBounds(t *testing.T) {
	storage := newTestStorage(t, Options{BlockSize: 128, BlockHeaderSize: 48})

	block, _ := storage.CreateNew()
	if _, err := block.Header(-1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Expected ErrOutOfRange for index -1, got %v", err)
	}
	if _, err := block.Header(6); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Expected ErrOutOfRange for index 6, got %v", err)
	}
	if err := block.SetHeader(6, 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Expected ErrOutOfRange for index 6, got %v", err)
	}
	// 48-byte header carries exactly 6 fields; index 5 is valid.
	if err := block.SetHeader(5, 99); err != nil {
		t.Errorf("Expected index 5 to be valid, got %v", err)
	}
}

func TestContentRoundTripInsideSector(t *testing.T) {
	storage := newTestStorage(t, Options{BlockSize: 128, BlockHeaderSize: 48})

	block, _ := storage.CreateNew()
	payload := []byte("hello block layer")
	if err := block.WriteContent(payload, 0, 3, len(payload)); err != nil {
		t.Fatalf("WriteContent failed: %v", err)
	}

	got := make([]byte, len(payload))
	if err := block.ReadContent(got, 0, 3, len(payload)); err != nil {
		t.Fatalf("ReadContent failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Content mismatch: expected %q, got %q", payload, got)
	}
}

func TestContentStraddlesSector(t *testing.T) {
	// 8192-byte blocks buffer only the first 4096 bytes; writes past the
	// sector boundary go straight to the stream.
	storage := newTestStorage(t, Options{BlockSize: 8192, BlockHeaderSize: 48})

	block, _ := storage.CreateNew()
	payload := make([]byte, 6000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	if err := block.WriteContent(payload, 0, 0, len(payload)); err != nil {
		t.Fatalf("WriteContent failed: %v", err)
	}

	got := make([]byte, len(payload))
	if err := block.ReadContent(got, 0, 0, len(payload)); err != nil {
		t.Fatalf("ReadContent failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Straddling content mismatch")
	}

	// Read starting beyond the sector as well.
	tail := make([]byte, 100)
	if err := block.ReadContent(tail, 0, 5000, 100); err != nil {
		t.Fatalf("ReadContent failed: %v", err)
	}
	if !bytes.Equal(tail, payload[5000:5100]) {
		t.Errorf("Tail read mismatch")
	}
}

func TestContentBounds(t *testing.T) {
	storage := newTestStorage(t, Options{BlockSize: 128, BlockHeaderSize: 48})

	block, _ := storage.CreateNew()
	buf := make([]byte, 16)

	if err := block.WriteContent(buf, 0, 70, 16); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Expected ErrOutOfRange writing past capacity, got %v", err)
	}
	if err := block.ReadContent(buf, 0, -1, 4); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Expected ErrOutOfRange for negative offset, got %v", err)
	}
	if err := block.ReadContent(buf, 10, 0, 8); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Expected ErrOutOfRange for short buffer, got %v", err)
	}
}

func TestReleaseSemantics(t *testing.T) {
	storage := newTestStorage(t, Options{BlockSize: 128, BlockHeaderSize: 48})

	block, _ := storage.CreateNew()
	if err := block.SetHeader(HeaderContentLength, 8); err != nil {
		t.Fatalf("SetHeader failed: %v", err)
	}
	if err := block.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	// Double release is a no-op.
	if err := block.Release(); err != nil {
		t.Errorf("Second release should be a no-op, got %v", err)
	}
	// Any use after release fails.
	if _, err := block.Header(0); !errors.Is(err, ErrDisposed) {
		t.Errorf("Expected ErrDisposed after release, got %v", err)
	}
	if err := block.WriteContent([]byte{1}, 0, 0, 1); !errors.Is(err, ErrDisposed) {
		t.Errorf("Expected ErrDisposed after release, got %v", err)
	}
}

func TestFileStreamPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocks.db")

	storage, err := Open(path, Options{BlockSize: 128, BlockHeaderSize: 48})
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	block, err := storage.CreateNew()
	if err != nil {
		t.Fatalf("Failed to create block: %v", err)
	}
	payload := []byte{0xAA, 0xBB, 0xCC}
	if err := block.WriteContent(payload, 0, 0, 3); err != nil {
		t.Fatalf("WriteContent failed: %v", err)
	}
	if err := block.SetHeader(HeaderContentLength, 3); err != nil {
		t.Fatalf("SetHeader failed: %v", err)
	}
	if err := storage.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path, Options{BlockSize: 128, BlockHeaderSize: 48})
	if err != nil {
		t.Fatalf("Failed to reopen storage: %v", err)
	}
	defer reopened.Close()

	block, err = reopened.Find(0)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if block == nil {
		t.Fatalf("Expected block 0 to persist")
	}
	length, _ := block.Header(HeaderContentLength)
	if length != 3 {
		t.Errorf("Expected persisted content length 3, got %d", length)
	}
	got := make([]byte, 3)
	if err := block.ReadContent(got, 0, 0, 3); err != nil {
		t.Fatalf("ReadContent failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Persisted content mismatch: expected %x, got %x", payload, got)
	}
}
