package proxy

// frameQueue is a bounded FIFO of frames for one direction.
type frameQueue struct {
	frames []frame
	limit  int
}

func newFrameQueue(limit int) *frameQueue {
	return &frameQueue{limit: limit}
}

func (q *frameQueue) push(f frame) error {
	if q.limit > 0 && len(q.frames) >= q.limit {
		return ErrQueueFull
	}
	q.frames = append(q.frames, f)
	return nil
}

// take removes and returns, in arrival order, every frame accepted by keep.
// Frames that are not taken stay queued in their original order.
func (q *frameQueue) take(keep func(frame) bool) []frame {
	if len(q.frames) == 0 {
		return nil
	}
	var out []frame
	rest := q.frames[:0]
	for _, f := range q.frames {
		if keep(f) {
			out = append(out, f)
		} else {
			rest = append(rest, f)
		}
	}
	// zero the tail so dropped payloads can be collected
	for i := len(rest); i < len(q.frames); i++ {
		q.frames[i] = frame{}
	}
	q.frames = rest
	return out
}

// requeue puts frames that could not be sent back at the head of the queue.
// They were already counted against the limit, so the limit is not checked.
func (q *frameQueue) requeue(frames []frame) {
	if len(frames) == 0 {
		return
	}
	q.frames = append(append(make([]frame, 0, len(frames)+len(q.frames)), frames...), q.frames...)
}

func (q *frameQueue) takeAll() []frame {
	out := q.frames
	q.frames = nil
	return out
}

func (q *frameQueue) len() int {
	return len(q.frames)
}
