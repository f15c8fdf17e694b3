// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btmalloc

import (
	"github.com/intuitivelabs/slog"
)

// DumpStatus writes the current heap status in the log (debug level).
func (m *BTMalloc) DumpStatus() {
	m.lock()
	defer m.unlock()
	m.dumpStatus()
}

// dumpStatus will write current status information in the log
func (m *BTMalloc) dumpStatus() {
	const lev = slog.LDBG
	const prefix = "bt_status "

	if !Log.L(lev) {
		return
	}
	Log.LLog(lev, 0, prefix, "(%p):\n", m)
	if m == nil || !m.initialised {
		return
	}
	Log.LLog(lev, 0, prefix, "heap size= %d, policy= %s\n",
		m.size, m.policy)
	Log.LLog(lev, 0, prefix, "used= %d, used+overhead=%d, free=%d\n",
		m.used.Used, m.used.RealUsed, m.Available())
	Log.LLog(lev, 0, prefix, "max used (+overhead)= %d\n",
		m.used.MaxRealUsed)
	if m.options&BTDumpStatsShort != 0 {
		return
	}
	Log.LLog(lev, 0, prefix, "dumping all blocks:\n")
	i := 0
	m.Walk(func(b BlockInfo) bool {
		status := 'f'
		if b.Alloc {
			status = 'a'
		}
		if b.Sentinel {
			Log.LLog(lev, 0, prefix, "   %3d.    address=0x%x size=%d [%c] sentinel\n",
				i, uint32(b.Addr), b.Size, status)
		} else {
			Log.LLog(lev, 0, prefix,
				"   %3d.    address=0x%x size=%d [%c] footer=0x%x\n",
				i, uint32(b.Addr), b.Size, status, m.get(m.ftrp(b.Addr)))
		}
		i++
		return true
	})
	Log.LLog(lev, 0, prefix, "dumping free list:\n")
	j := 0
	for bp := m.freeHead; bp != prologue && uint32(bp) < m.size && j <= m.freeNo; {
		Log.LLog(lev, 0, prefix, "   %3d.    address=0x%x size=%d\n",
			j, uint32(bp), m.blkSize(bp))
		bp = Ptr(m.get(uint32(bp) + WSize))
		j++
	}
	if j != m.freeNo {
		BUG("bt_status: different free blocks count: %d != %d\n",
			j, m.freeNo)
	}
	Log.LLog(lev, 0, prefix, "-----------------------------\n")
}
