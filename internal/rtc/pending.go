package rtc

import "github.com/pion/webrtc/v4"

// pendingOffer is the single queued inbound offer.
type pendingOffer struct {
	SDP      string
	CallerID string
}

// inbox buffers negotiation messages that arrive before local capture
// is ready. One offer slot, one answer slot (new arrivals overwrite),
// candidates accumulate in arrival order.
type inbox struct {
	offer      *pendingOffer
	answer     *string
	candidates []webrtc.ICECandidateInit
}

func (b *inbox) putOffer(sdp, callerID string) {
	b.offer = &pendingOffer{SDP: sdp, CallerID: callerID}
}

func (b *inbox) putAnswer(sdp string) {
	b.answer = &sdp
}

func (b *inbox) addCandidate(cand webrtc.ICECandidateInit) {
	b.candidates = append(b.candidates, cand)
}

// take empties the inbox and returns its contents for draining.
func (b *inbox) take() (*pendingOffer, *string, []webrtc.ICECandidateInit) {
	offer, answer, cands := b.offer, b.answer, b.candidates
	b.offer = nil
	b.answer = nil
	b.candidates = nil
	return offer, answer, cands
}

func (b *inbox) empty() bool {
	return b.offer == nil && b.answer == nil && len(b.candidates) == 0
}
