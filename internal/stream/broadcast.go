package stream

// Broadcast is the central fan-out operation, spec.md §4.3. It holds the
// source's write guard for the entire call so that a listener attached
// concurrently (via Source.AttachListener) always sees a burst buffer
// consistent with exactly the chunks already broadcast — never a chunk
// that landed in a listener's queue but not yet in the burst buffer, or
// vice versa.
func Broadcast(source *Source, chunk []byte, queueSize, burstSize int) {
	source.mu.Lock()

	var evicted []*Listener
	for id, l := range source.clients {
		if l.BufferSize()+int64(len(chunk)) > int64(queueSize) {
			evicted = append(evicted, l)
			delete(source.clients, id)
			continue
		}
		if !l.tryEnqueue(chunk) {
			evicted = append(evicted, l)
			delete(source.clients, id)
		}
	}

	source.burstBuffer = append(source.burstBuffer, chunk...)
	if len(source.burstBuffer) > burstSize {
		source.burstBuffer = source.burstBuffer[len(source.burstBuffer)-burstSize:]
	}

	source.mu.Unlock()

	for _, l := range evicted {
		l.kick()
	}
}
