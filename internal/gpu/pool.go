package gpu

// QueuePool recycles queues for a single worker. It is not safe for
// concurrent use; each worker owns its own pool.
type QueuePool struct {
	acc     Accelerator
	free    []Queue
	created int
}

// NewQueuePool creates an empty pool drawing new queues from acc.
func NewQueuePool(acc Accelerator) *QueuePool {
	return &QueuePool{acc: acc}
}

// Acquire pops an idle queue or creates a new one.
func (p *QueuePool) Acquire() (Queue, error) {
	if n := len(p.free); n > 0 {
		q := p.free[n-1]
		p.free = p.free[:n-1]
		return q, nil
	}
	q, err := p.acc.NewQueue()
	if err != nil {
		return nil, err
	}
	p.created++
	return q, nil
}

// Put returns q to the pool.
func (p *QueuePool) Put(q Queue) {
	if q == nil {
		return
	}
	p.free = append(p.free, q)
}

// Idle returns the number of pooled queues.
func (p *QueuePool) Idle() int { return len(p.free) }

// Created returns how many queues the pool has created.
func (p *QueuePool) Created() int { return p.created }

// Release releases every idle queue.
func (p *QueuePool) Release() {
	for _, q := range p.free {
		q.Release()
	}
	p.free = nil
}
