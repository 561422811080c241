package transport

import "sync"

// Inbox is an unbounded ordered buffer in front of a Conn's Messages
// channel. Push never blocks, so one slow reader cannot stall the goroutine
// that demultiplexes a shared link.
type Inbox struct {
	mu       sync.Mutex
	queue    [][]byte
	finished bool
	notify   chan struct{}
	out      chan []byte
	stop     chan struct{}
	stopOnce sync.Once
}

func NewInbox() *Inbox {
	in := &Inbox{
		notify: make(chan struct{}, 1),
		out:    make(chan []byte),
		stop:   make(chan struct{}),
	}
	go in.pump()
	return in
}

// C is the receive side. It is closed after Finish drains or on Stop.
func (in *Inbox) C() <-chan []byte { return in.out }

// Push queues data. It returns false once the inbox is finished.
func (in *Inbox) Push(data []byte) bool {
	in.mu.Lock()
	if in.finished {
		in.mu.Unlock()
		return false
	}
	in.queue = append(in.queue, data)
	in.mu.Unlock()
	in.wake()
	return true
}

// Finish refuses further pushes; queued messages are still delivered.
func (in *Inbox) Finish() {
	in.mu.Lock()
	in.finished = true
	in.mu.Unlock()
	in.wake()
}

// Stop closes C immediately, discarding anything queued.
func (in *Inbox) Stop() {
	in.Finish()
	in.stopOnce.Do(func() { close(in.stop) })
}

func (in *Inbox) wake() {
	select {
	case in.notify <- struct{}{}:
	default:
	}
}

func (in *Inbox) pump() {
	defer close(in.out)
	for {
		in.mu.Lock()
		if len(in.queue) == 0 {
			finished := in.finished
			in.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-in.notify:
				continue
			case <-in.stop:
				return
			}
		}
		msg := in.queue[0]
		in.queue = in.queue[1:]
		in.mu.Unlock()

		select {
		case in.out <- msg:
		case <-in.stop:
			return
		}
	}
}
