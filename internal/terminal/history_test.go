package terminal

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistoryKeepsInsertionOrder(t *testing.T) {
	h := NewHistory(10)
	h.Push("a")
	h.Push("b")
	h.Push("c")
	assert.Equal(t, []string{"a", "b", "c"}, h.Get())
}

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 10; i++ {
		h.Push(fmt.Sprintf("item-%d", i))
	}
	assert.Equal(t, []string{"item-7", "item-8", "item-9"}, h.Get())
	assert.Equal(t, 3, h.Len())
}

func TestHistoryExactCapacity(t *testing.T) {
	h := NewHistory(2)
	h.Push("x")
	h.Push("y")
	assert.Equal(t, []string{"x", "y"}, h.Get())

	h.Push("z")
	assert.Equal(t, []string{"y", "z"}, h.Get())
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory(5)
	h.Push("a")
	h.Clear()
	assert.Empty(t, h.Get())

	h.Push("b")
	assert.Equal(t, []string{"b"}, h.Get())
}

func TestHistoryDefaultCapacity(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < DefaultHistoryLines+5; i++ {
		h.Push("x")
	}
	assert.Equal(t, DefaultHistoryLines, h.Len())
}
