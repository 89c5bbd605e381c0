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

const sortSlots = 64

// merge joins two sorted chains. On equal keys p1 goes first.
func (task *subtask) merge(p1, p2 *sorterRecord) *sorterRecord {
	var head *sorterRecord
	tail := &head
	cached := false
	for {
		if task.compare(task, &cached, p1.key, p2.key) <= 0 {
			*tail = p1
			tail = &p1.next
			p1 = p1.next
			if p1 == nil {
				*tail = p2
				break
			}
		} else {
			*tail = p2
			tail = &p2.next
			p2 = p2.next
			cached = false
			if p2 == nil {
				*tail = p1
				break
			}
		}
	}
	return head
}

// sortList sorts l in place with a bottom-up merge sort. Slot i holds a
// sorted run of 2^i records. Records written earlier come first among
// equal keys.
func (task *subtask) sortList(l *sorterList) error {
	task.allocUnpacked()
	task.unpacked.Err = nil
	var slots [sortSlots]*sorterRecord
	p := l.chain()
	for p != nil {
		next := p.next
		p.next = nil
		i := 0
		for ; slots[i] != nil; i++ {
			p = task.merge(p, slots[i])
			slots[i] = nil
		}
		slots[i] = p
		p = next
	}
	for i := range slots {
		if slots[i] == nil {
			continue
		}
		if p == nil {
			p = slots[i]
		} else {
			p = task.merge(p, slots[i])
		}
	}
	l.head = p
	return task.unpacked.Err
}
