package row_block

import (
	"fmt"
	"sync"
	"time"

	"github.com/basho/go-sstable/common"
	"github.com/basho/go-sstable/metrics"
	"github.com/basho/go-sstable/vfs"
	"go.uber.org/zap"
)

const (
	// numWorkers is the number of background compression/write goroutines.
	numWorkers = 2

	// numBufferSlots is the ring size. It must satisfy
	// numBufferSlots >= numWorkers + 2 so the ingester and the writer never
	// starve each other while one slot is mid-write and another mid-compress.
	numBufferSlots = 5
)

type workerAction uint8

const (
	actionExit workerAction = iota
	actionCompress
	actionWrite
)

// pipeline schedules block slots between the single ingest goroutine and the
// worker pool. One mutex and one condition variable guard every slot state,
// both cursors and the finish/abort flags; compression and file I/O always run
// outside the lock.
type pipeline struct {
	mu   sync.Mutex
	cond *sync.Cond

	slots [numBufferSlots]blockSlot

	// nextAdd is the ingest cursor; only the ingest goroutine advances it.
	nextAdd int
	// nextWrite is the write cursor; only the worker holding the Writing slot
	// advances it.
	nextWrite int

	// finish: no more inbound keys, drain and exit.
	// abort: stop now, discarding in-flight work.
	finish bool
	abort  bool

	workers sync.WaitGroup

	w *RowBlockWriter
}

func newPipeline(w *RowBlockWriter) *pipeline {
	p := &pipeline{w: w}
	p.cond = sync.NewCond(&p.mu)
	for i := range p.slots {
		p.slots[i].blk = newRowBlockBuf(w.opts.BlockRestartInterval)
	}
	return p
}

func (p *pipeline) start() {
	for i := 0; i < numWorkers; i++ {
		p.workers.Add(1)
		go p.worker()
	}
}

// ingestSlot returns the slot under the ingest cursor once it accepts keys,
// blocking while every slot is in a state hostile to ingestion. On the
// Empty → Loading edge it feeds the new block's first key to the ring
// predecessor as separator input.
func (p *pipeline) ingestSlot(firstKey *common.InternalKey) *blockSlot {
	p.mu.Lock()
	slot := &p.slots[p.nextAdd]
	if slot.state != slotEmpty && slot.state != slotLoading {
		start := time.Now()
		for slot.state != slotEmpty && slot.state != slotLoading {
			p.cond.Wait()
		}
		p.w.waitNanos += time.Since(start).Nanoseconds()
	}

	if slot.state == slotEmpty {
		slot.state = slotLoading

		prev := &p.slots[(p.nextAdd+numBufferSlots-1)%numBufferSlots]
		if prev.state != slotEmpty {
			prev.lastKey = *prev.lastKey.Separator(p.w.comparer, firstKey)
			prev.keyShortened = true
			// if the block's progress is waiting for this key, mark it ready
			if prev.state == slotKeyWait {
				prev.state = slotReady
				p.cond.Broadcast()
			}
		}
	}
	p.mu.Unlock()
	return slot
}

// seal transitions the slot under the ingest cursor from Loading to Full and
// advances the cursor. A slot that is not Loading is left alone.
func (p *pipeline) seal() {
	p.mu.Lock()
	slot := &p.slots[p.nextAdd]
	if slot.state == slotLoading {
		slot.state = slotFull
		p.nextAdd = (p.nextAdd + 1) % numBufferSlots
		p.cond.Broadcast()
	}
	p.mu.Unlock()
}

// releaseBuffers returns the slot buffers to the pool; only safe once the
// workers are joined.
func (p *pipeline) releaseBuffers() {
	for i := range p.slots {
		p.slots[i].blk.release()
	}
}

func (p *pipeline) setFinish(abort bool) {
	p.mu.Lock()
	p.finish = true
	if abort {
		p.abort = true
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *pipeline) worker() {
	defer p.workers.Done()
	for {
		idx, action := p.findWork()
		switch action {
		case actionExit:
			return
		case actionCompress:
			p.compressSlot(idx)
		case actionWrite:
			p.writeSlot(idx)
		}
	}
}

// findWork scans the ring starting at the write cursor and claims the first
// actionable slot, waiting on the condition variable when there is none.
func (p *pipeline) findWork() (int, workerAction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		allEmpty := true
		for i := range p.slots {
			if !p.slots[i].empty() {
				allEmpty = false
				break
			}
		}
		if p.abort || (p.finish && allEmpty) {
			return -1, actionExit
		}

		if !allEmpty {
			for loop := p.nextWrite; loop < p.nextWrite+numBufferSlots; loop++ {
				idx := loop % numBufferSlots
				slot := &p.slots[idx]

				// ready to write?
				if idx == p.nextWrite && slot.state == slotReady {
					slot.state = slotWriting
					return idx, actionWrite
				}

				// ready for generic work
				if slot.state == slotFull {
					slot.state = slotCompressing
					return idx, actionCompress
				}

				// last block of the stream: no successor key will ever arrive,
				// so close its separator with the short successor
				if p.finish && idx == p.nextWrite && slot.state == slotKeyWait &&
					p.slots[(idx+1)%numBufferSlots].empty() {
					slot.lastKey = *slot.lastKey.Successor(p.w.comparer)
					slot.keyShortened = true
					slot.state = slotWriting
					return idx, actionWrite
				}
			}
		}

		p.cond.Wait()
	}
}

// compressSlot runs the compression half of a worker iteration outside the
// lock, then routes the slot toward the writer.
func (p *pipeline) compressSlot(idx int) {
	slot := &p.slots[idx]
	w := p.w

	raw := slot.blk.Finish()
	w.counters.Inc(metrics.CountBlocks)
	w.counters.Add(metrics.CountBlockSize, uint64(len(raw)))

	payload, blockType := compressPayload(raw, w.opts.Compression[common.BlockKindData], &slot.compressBuf, w.counters)
	slot.compression = blockType
	slot.physical.SetData(payload)
	slot.crc = w.checksum.Checksum(payload, byte(blockType))
	slot.physical.SetTrailer(byte(blockType), common.MaskChecksum(slot.crc))

	inlineWrite := false
	p.mu.Lock()
	if slot.keyShortened {
		if idx == p.nextWrite {
			// skip the Ready handoff: this slot is the writer's target anyway
			slot.state = slotWriting
			inlineWrite = true
		} else {
			slot.state = slotReady
		}
	} else {
		slot.state = slotKeyWait
	}
	if !inlineWrite {
		p.cond.Broadcast()
	}
	p.mu.Unlock()

	if inlineWrite {
		p.writeSlot(idx)
	}
}

// writeSlot runs the write half of a worker iteration for the slot at the
// write cursor. File-sequence work (region reservation, filter boundary,
// index entry) happens first; the payload copy itself is position independent
// and runs after the next writer has been released.
func (p *pipeline) writeSlot(idx int) {
	slot := &p.slots[idx]
	w := p.w

	if !slot.keyShortened {
		w.setError(fmt.Errorf("%w: slot %d entered writing with an unshortened key", common.ErrInvariantViolation, idx))
	}

	err := w.Error()
	totalSize := slot.physical.LengthWithTrailer()

	var region vfs.Region
	if err == nil {
		if region, err = w.writable.Allocate(totalSize); err != nil {
			err = fmt.Errorf("%w: allocate %d bytes: %v", common.ErrIO, totalSize, err)
			w.setError(err)
			zap.L().Error("failed to allocate block region", zap.Error(err))
		}
	}

	handle := common.BlockHandle{Offset: w.offset, Length: uint64(len(slot.physical.Data()))}
	w.offset += uint64(totalSize)

	if err == nil {
		if w.filterWriter != nil {
			// push all the block's keys into the filter, then mark the boundary
			w.filterWriter.AddKeys(slot.filtKeys, slot.filtLengths)
			w.filterWriter.StartBlock(w.offset)
		}
		if ierr := w.indexWriter.add(&slot.lastKey, handle); ierr != nil {
			w.setError(ierr)
		} else {
			w.counters.Inc(metrics.CountIndexKeys)
		}
	}

	// Release the next writer before the payload lands: ordering is already
	// pinned by the reserved region and the index entry, and the copy is
	// position independent.
	p.mu.Lock()
	slot.state = slotCopying
	p.nextWrite = (p.nextWrite + 1) % numBufferSlots
	p.cond.Broadcast()
	p.mu.Unlock()

	if err == nil {
		if err = region.Assign(slot.physical.Data()); err == nil {
			trailer := slot.physical.Trailer()
			err = region.Append(trailer[:])
		}
		if err != nil {
			err = fmt.Errorf("%w: write block at offset %d: %v", common.ErrIO, handle.Offset, err)
			w.setError(err)
			zap.L().Error("failed to write data block", zap.Error(err))
		} else {
			w.counters.Add(metrics.CountBlockWriteSize, uint64(len(slot.physical.Data())))
		}
	}

	// buffer done, put back in pile
	p.mu.Lock()
	slot.reset()
	p.cond.Broadcast()
	p.mu.Unlock()
}
