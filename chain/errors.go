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

package chain

import "errors"

var (
	// ErrNotStarted is returned when an operation arrives before Start.
	ErrNotStarted = errors.New("blockchain not started")

	// ErrStopped is returned for operations invoked while the chain is
	// stopping or stopped.
	ErrStopped = errors.New("blockchain is stopped")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("blockchain already started")
)
