// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sorter

import (
	"encoding/binary"
	"math"
)

type linkMode uint8

const (
	// linkPointer allocates every record on its own.
	linkPointer linkMode = iota
	// linkArena packs records into one buffer, linked by offset.
	linkArena
)

const (
	arenaNil     = math.MaxUint32
	arenaHdrSize = 8
	// accounting overhead of one record in pointer mode
	pointerRecSize = 32
	arenaMaxSize   = math.MaxUint32 - 1
)

type sorterRecord struct {
	key  []byte
	next *sorterRecord
}

// sorterList holds the records written since the last flush.
//
// In arena mode each record is an 8 byte header [next u32][len u32]
// followed by the key, and arenaHead is the offset of the most recent
// record. Sorting turns either mode into a chain of sorterRecords
// starting at head; in arena mode their keys alias the arena.
type sorterList struct {
	mode      linkMode
	head      *sorterRecord
	arena     []byte
	arenaHead uint32
	count     int
	// serialized size of the list as a PMA, excluding its length prefix
	szPMA int
	// bytes charged to the heap counter
	mem int64
}

func newSorterList(mode linkMode) sorterList {
	return sorterList{mode: mode, arenaHead: arenaNil}
}

// add links a copy of key in front of the list and returns the bytes it
// charged.
func (l *sorterList) add(key []byte) int64 {
	var charged int64
	if l.mode == linkArena {
		off := uint32(len(l.arena))
		l.arena = binary.BigEndian.AppendUint32(l.arena, l.arenaHead)
		l.arena = binary.BigEndian.AppendUint32(l.arena, uint32(len(key)))
		l.arena = append(l.arena, key...)
		l.arenaHead = off
		charged = int64(arenaHdrSize + len(key))
	} else {
		l.head = &sorterRecord{
			key:  append([]byte(nil), key...),
			next: l.head,
		}
		charged = int64(pointerRecSize + len(key))
	}
	l.count++
	l.mem += charged
	return charged
}

// fits reports whether n more bytes can be addressed by the arena.
func (l *sorterList) fits(n int) bool {
	return l.mode != linkArena || len(l.arena)+arenaHdrSize+n <= arenaMaxSize
}

// chain returns the records as a pointer chain, most recent first.
func (l *sorterList) chain() *sorterRecord {
	if l.mode != linkArena || l.arenaHead == arenaNil {
		return l.head
	}
	nodes := make([]sorterRecord, l.count)
	off := l.arenaHead
	for i := range nodes {
		hdr := l.arena[off : off+arenaHdrSize]
		start := off + arenaHdrSize
		end := start + binary.BigEndian.Uint32(hdr[4:])
		nodes[i].key = l.arena[start:end:end]
		if i+1 < len(nodes) {
			nodes[i].next = &nodes[i+1]
		}
		off = binary.BigEndian.Uint32(hdr[:4])
	}
	l.arenaHead = arenaNil
	l.head = &nodes[0]
	return l.head
}

// reset empties the list. An arena keeps its capacity.
func (l *sorterList) reset() {
	l.head = nil
	l.arena = l.arena[:0]
	l.arenaHead = arenaNil
	l.count = 0
	l.szPMA = 0
	l.mem = 0
}
