package dedup

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldProcess(t *testing.T) {
	d := New(time.Minute, 10)

	assert.True(t, d.ShouldProcess("a"))
	assert.False(t, d.ShouldProcess("a"))
	assert.True(t, d.ShouldProcess("b"))
	assert.True(t, d.ShouldProcess(""))
	assert.True(t, d.ShouldProcess(""))
}

func TestKeysExpire(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	d := New(time.Minute, 10)
	d.now = func() time.Time { return now }

	assert.True(t, d.ShouldProcess("a"))
	now = now.Add(30 * time.Second)
	assert.False(t, d.ShouldProcess("a"))
	now = now.Add(31 * time.Second)
	assert.True(t, d.ShouldProcess("a"))
}

func TestSizeIsBounded(t *testing.T) {
	d := New(time.Hour, 5)
	for i := 0; i < 20; i++ {
		assert.True(t, d.ShouldProcess(fmt.Sprintf("k%d", i)))
	}
	assert.LessOrEqual(t, d.Len(), 5)
}
