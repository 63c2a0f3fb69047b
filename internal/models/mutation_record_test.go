package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBefore_CreatedAtDrivesOrder(t *testing.T) {
	base := time.Now().UTC()
	earlier := &MutationRecord{ID: "b", CreatedAt: base, Seq: 9}
	later := &MutationRecord{ID: "a", CreatedAt: base.Add(time.Second), Seq: 1}

	assert.True(t, earlier.Before(later))
	assert.False(t, later.Before(earlier))
}

func TestBefore_SeqBreaksCreatedAtTies(t *testing.T) {
	base := time.Now().UTC()
	first := &MutationRecord{ID: "z", CreatedAt: base, Seq: 1}
	second := &MutationRecord{ID: "a", CreatedAt: base, Seq: 2}

	assert.True(t, first.Before(second))
	assert.False(t, second.Before(first))
}

func TestBefore_IDBreaksSeqCollisions(t *testing.T) {
	// Two writers sharing a queue directory can assign the same sequence to
	// different records; the order must still be the same on every client.
	base := time.Now().UTC()
	a := &MutationRecord{ID: "0a9b", CreatedAt: base, Seq: 4}
	b := &MutationRecord{ID: "7c1d", CreatedAt: base, Seq: 4}

	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.False(t, a.Before(a), "a record never sorts before itself")
}
