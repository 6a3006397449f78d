package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWaiterTable_FIFOPerPubkey(t *testing.T) {
	tbl := NewWaiterTable()
	a, b := &Connection{id: 1}, &Connection{id: 2}
	other := &Connection{id: 3}

	wa := tbl.add("pk", a)
	wb := tbl.add("pk", b)
	tbl.add("other", other)
	assert.Equal(t, 3, tbl.Len())

	assert.Same(t, wa, tbl.pop("pk"))
	assert.Same(t, wb, tbl.pop("pk"))
	assert.Nil(t, tbl.pop("pk"))
	assert.Equal(t, 1, tbl.Len())
}

func TestWaiterTable_Remove(t *testing.T) {
	tbl := NewWaiterTable()
	wa := tbl.add("pk", &Connection{id: 1})
	wb := tbl.add("pk", &Connection{id: 2})

	tbl.remove(wa)
	tbl.remove(wa)
	tbl.remove(nil)
	assert.Equal(t, 1, tbl.Len())
	assert.Same(t, wb, tbl.pop("pk"))

	// removing a consumed waiter is a no-op
	tbl.remove(wb)
	assert.Zero(t, tbl.Len())
}
