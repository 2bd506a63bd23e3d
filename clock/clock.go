// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package clock provides the offset-adjustable wall clock used for block
// timestamps. The offset is the only mutable piece of state: evm_increaseTime
// style adjustments move it forward (or backward), and snapshot/revert
// captures and restores it.
package clock

import (
	"sync"
	"time"
)

// Clock yields timestamps shifted by an adjustable offset from wall time.
// The zero value reads plain wall time. Safe for concurrent use.
type Clock struct {
	mu     sync.RWMutex
	offset time.Duration
}

// New returns a clock whose current time is start. A nil start anchors the
// clock to wall time with no offset.
func New(start *time.Time) *Clock {
	c := new(Clock)
	if start != nil {
		c.offset = time.Until(*start)
	}
	return c
}

// Now returns the current adjusted time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Add(c.offset)
}

// Timestamp returns the current adjusted time as a Unix timestamp, the form
// consumed by block headers.
func (c *Clock) Timestamp() uint64 {
	return uint64(c.Now().Unix())
}

// Offset returns the current adjustment relative to wall time.
func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// SetOffset replaces the adjustment wholesale. Used on snapshot revert.
func (c *Clock) SetOffset(offset time.Duration) {
	c.mu.Lock()
	c.offset = offset
	c.mu.Unlock()
}

// IncreaseTime moves the clock forward by d and returns the new total offset
// in seconds. Negative d moves it backward.
func (c *Clock) IncreaseTime(d time.Duration) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
	return int64(c.offset / time.Second)
}

// SetTime adjusts the offset so that Now() == t, returning the new offset in
// seconds.
func (c *Clock) SetTime(t time.Time) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = time.Until(t)
	return int64(c.offset / time.Second)
}
