package memory

import (
	"bytes"
	"errors"
	"testing"
)

func TestInject(t *testing.T) {
	s, target := attachedFake(t)

	code := []byte{0x90, 0x90, 0xc3}
	inj, err := s.Inject(code)
	if err != nil {
		t.Fatal(err)
	}

	if got := target.peek(inj.Address, len(code)); !bytes.Equal(got, code) {
		t.Fatalf("remote memory holds %x, want %x", got, code)
	}
	if len(target.threads) != 1 || target.threads[0] != inj.Address {
		t.Fatalf("thread started at %x, want %#x", target.threads, inj.Address)
	}
	if inj.ThreadID == 0 {
		t.Fatal("missing thread id")
	}
	if len(target.freed) != 0 {
		t.Fatal("allocation released after a successful injection")
	}
}

func TestInjectFailures(t *testing.T) {
	cause := errors.New("denied")

	tests := []struct {
		name  string
		setup func(*fakeTarget)
		code  []byte
		want  error
		freed bool
	}{
		{
			name: "empty payload",
			code: nil,
			want: ErrAllocation,
		},
		{
			name:  "allocation",
			setup: func(t *fakeTarget) { t.allocErr = cause },
			code:  []byte{0xc3},
			want:  ErrAllocation,
		},
		{
			name:  "copy",
			setup: func(t *fakeTarget) { t.writeErr = cause },
			code:  []byte{0xc3},
			want:  ErrInjection,
			freed: true,
		},
		{
			name:  "thread",
			setup: func(t *fakeTarget) { t.threadErr = cause },
			code:  []byte{0xc3},
			want:  ErrInjection,
			freed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, target := attachedFake(t)
			if tt.setup != nil {
				tt.setup(target)
			}

			_, err := s.Inject(tt.code)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if tt.code != nil && !errors.Is(err, cause) {
				t.Fatalf("cause not wrapped: %v", err)
			}
			if got := len(target.freed) == 1; got != tt.freed {
				t.Fatalf("allocation freed: %v, want %v", got, tt.freed)
			}
		})
	}
}
