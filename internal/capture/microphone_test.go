//go:build !malgo

package capture

import (
	"errors"
	"testing"
)

func TestNewDeviceMicrophone_NoBackend(t *testing.T) {
	t.Parallel()
	if _, err := NewDeviceMicrophone(Format{SampleRate: 48000, Channels: 1}, nil); !errors.Is(err, ErrNoMicrophone) {
		t.Errorf("err = %v, want ErrNoMicrophone", err)
	}
}
