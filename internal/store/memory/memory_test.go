package memory_test

import (
	"testing"

	"genflow/internal/core"
	"genflow/internal/store/memory"
	"genflow/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.Store { return memory.New(nil) })
}
