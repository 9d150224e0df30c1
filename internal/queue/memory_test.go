package queue

import "testing"

func TestMemoryBackend_Contract(t *testing.T) {
	runBackendContract(t, func(t *testing.T) Backend {
		return NewMemoryBackend()
	})
}
