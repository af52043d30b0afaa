package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Unique(t *testing.T) {
	require.NoError(t, Init(3))

	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				no := GenerateOrderNo()
				mu.Lock()
				seen[no] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 4000)
}

func TestGenerate_Prefix(t *testing.T) {
	assert.True(t, strings.HasPrefix(GenerateOrderNo(), "MEAL"))
	assert.True(t, strings.HasPrefix(GenerateTransactionNo(), "CTX"))
	assert.True(t, strings.HasPrefix(GenerateBatchNo(), "BAT"))
	assert.LessOrEqual(t, len(GenerateOrderNo()), 64)
}

func TestInit_InvalidWorker(t *testing.T) {
	assert.Error(t, Init(5000))
}
