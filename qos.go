package asyncmqtt

// ackWriter writes whole frames or nothing.
type ackWriter interface {
	fits(n int) bool
	write(p outgoingPacket) (int, error)
}

// AckQueue is the FIFO of acknowledgements waiting for transport space.
// An entry leaves the queue only after it was written.
type AckQueue struct {
	items []AckPacket
}

// Push appends an acknowledgement to the tail.
func (q *AckQueue) Push(ack AckPacket) {
	q.items = append(q.items, ack)
}

// Len returns the number of queued acknowledgements.
func (q *AckQueue) Len() int {
	return len(q.items)
}

// Items returns the queued acknowledgements in send order.
func (q *AckQueue) Items() []AckPacket {
	return q.items
}

// Clear drops every queued acknowledgement.
func (q *AckQueue) Clear() {
	clear(q.items)
	q.items = q.items[:0]
}

// Flush writes acknowledgements from the head while the transport has room
// for a whole ack frame. It returns the number written.
func (q *AckQueue) Flush(w ackWriter) int {
	sent := 0

	for sent < len(q.items) && w.fits(ackFrameSize) {
		if _, err := w.write(&q.items[sent]); err != nil {
			break
		}
		sent++
	}

	if sent > 0 {
		n := copy(q.items, q.items[sent:])
		clear(q.items[n:])
		q.items = q.items[:n]
	}

	return sent
}

// qosEngine drives the inbound QoS 1 and QoS 2 handshakes and the
// outbound PUBREC to PUBREL step.
type qosEngine struct {
	pendingPubrel map[uint16]struct{}
	acks          AckQueue
}

func newQoSEngine() *qosEngine {
	return &qosEngine{
		pendingPubrel: make(map[uint16]struct{}),
	}
}

// shouldDeliver reports whether an inbound PUBLISH reaches the application.
// A QoS 2 message whose PUBREL is still pending is a retransmission.
func (q *qosEngine) shouldDeliver(qos byte, id uint16) bool {
	if qos != QoS2 {
		return true
	}
	_, pending := q.pendingPubrel[id]
	return !pending
}

// publishComplete queues the acknowledgement for a fully received PUBLISH.
// Duplicates of a pending QoS 2 message are acknowledged again.
func (q *qosEngine) publishComplete(qos byte, id uint16) {
	switch qos {
	case QoS1:
		q.acks.Push(NewPuback(id))
	case QoS2:
		q.pendingPubrel[id] = struct{}{}
		q.acks.Push(NewPubrec(id))
	}
}

// pubrel releases a QoS 2 id and queues PUBCOMP. Unknown ids are
// completed as well.
func (q *qosEngine) pubrel(id uint16) {
	delete(q.pendingPubrel, id)
	q.acks.Push(NewPubcomp(id))
}

// pubrec answers the broker's PUBREC for an outgoing QoS 2 message.
func (q *qosEngine) pubrec(id uint16) {
	q.acks.Push(NewPubrel(id))
}

// pending returns the number of QoS 2 ids awaiting PUBREL.
func (q *qosEngine) pending() int {
	return len(q.pendingPubrel)
}

func (q *qosEngine) reset() {
	clear(q.pendingPubrel)
	q.acks.Clear()
}
