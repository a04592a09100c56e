package lib

// SendSequenceSpace (RFC 793 S3.2 F4)
//
//	     1         2          3          4
//	----------|----------|----------|----------
//	       SND.UNA    SND.NXT    SND.UNA
//	                            +SND.WND
//
//	1 - old sequence numbers which have been acknowledged
//	2 - sequence numbers of unacknowledged data
//	3 - sequence numbers allowed for new data transmission
//	4 - future sequence numbers which are not yet allowed
type SendSequenceSpace struct {
	UNA uint32 // send unacknowledged
	NXT uint32 // send next
	WND uint16 // send window, as advertised by the peer
	UP  bool   // send urgent pointer
	WL1 uint32 // segment sequence number used for last window update
	WL2 uint32 // segment acknowledgment number used for last window update
	ISS uint32 // initial send sequence number
}

// ReceiveSequenceSpace (RFC 793 S3.2 F5)
//
//	    1          2          3
//	----------|----------|----------
//	       RCV.NXT    RCV.NXT
//	                 +RCV.WND
//
//	1 - old sequence numbers which have been acknowledged
//	2 - sequence numbers allowed for new reception
//	3 - future sequence numbers which are not yet allowed
type ReceiveSequenceSpace struct {
	NXT uint32 // receive next
	WND uint16 // receive window, advertised by us
	UP  bool   // receive urgent pointer
	IRS uint32 // initial receive sequence number
}

// windowEnd returns RCV.NXT+RCV.WND.
func (r *ReceiveSequenceSpace) windowEnd() uint32 {
	return SeqIncrementBy(r.NXT, uint32(r.WND))
}

// acceptable runs the RFC 793 S3.3 segment acceptability test for a segment
// starting at seq that occupies slen sequence numbers.
//
//	RCV.NXT =< SEG.SEQ < RCV.NXT+RCV.WND
//	RCV.NXT =< SEG.SEQ+SEG.LEN-1 < RCV.NXT+RCV.WND
func (r *ReceiveSequenceSpace) acceptable(seq, slen uint32) bool {
	start := r.NXT - 1
	wend := r.windowEnd()
	if slen == 0 {
		// zero-length segment has separate rules for acceptance
		if r.WND == 0 {
			return seq == r.NXT
		}
		return isBetweenWrapped(start, seq, wend)
	}
	if r.WND == 0 {
		return false
	}
	return isBetweenWrapped(start, seq, wend) ||
		isBetweenWrapped(start, seq+slen-1, wend)
}

// acceptableAck reports whether ack acknowledges something outstanding: SND.UNA < SEG.ACK =< SND.NXT.
func (s *SendSequenceSpace) acceptableAck(ack uint32) bool {
	return isBetweenWrapped(s.UNA, ack, SeqIncrement(s.NXT))
}

// ackBeyondNext reports whether ack acknowledges something not yet sent: SEG.ACK > SND.NXT.
func (s *SendSequenceSpace) ackBeyondNext(ack uint32) bool {
	return isBetweenWrapped(s.NXT, ack, SeqIncrementBy(s.NXT, 1<<31))
}
