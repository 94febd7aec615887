package devlink

// Framing markers placed around every UART message payload.
var (
	StartMarker = [2]byte{0xAA, 0x55}
	EndMarker   = [2]byte{0x55, 0xAA}
)

// MaxFramePayload is the largest payload the firmware buffers.
const MaxFramePayload = 512

// FormatMessage returns payload wrapped in the start and end markers.
func FormatMessage(payload []byte) []byte {
	msg := make([]byte, 0, len(payload)+len(StartMarker)+len(EndMarker))
	msg = append(msg, StartMarker[:]...)
	msg = append(msg, payload...)
	msg = append(msg, EndMarker[:]...)
	return msg
}

// FormatString frames the UTF-8 encoding of s.
func FormatString(s string) []byte {
	return FormatMessage([]byte(s))
}

type decodeState int

const (
	waitStart1 decodeState = iota
	waitStart2
	receiving
	waitEnd1
)

// Decoder extracts framed payloads from a byte stream. It follows the
// device firmware's receive states except that a repeated 0xAA before the
// 0x55 still opens a frame, where the firmware starts over. Bytes outside a
// frame are discarded. A 0x55 inside a payload that is not followed by 0xAA
// is kept.
type Decoder struct {
	max     int
	state   decodeState
	buf     []byte
	dropped int
}

// NewDecoder returns a decoder accepting payloads up to maxPayload bytes.
// maxPayload <= 0 selects MaxFramePayload.
func NewDecoder(maxPayload int) *Decoder {
	if maxPayload <= 0 {
		maxPayload = MaxFramePayload
	}
	return &Decoder{max: maxPayload, buf: make([]byte, 0, maxPayload)}
}

// Feed consumes p and returns every payload completed by it.
func (d *Decoder) Feed(p []byte) [][]byte {
	var frames [][]byte
	for _, b := range p {
		switch d.state {
		case waitStart1:
			if b == StartMarker[0] {
				d.state = waitStart2
			}
		case waitStart2:
			if b == StartMarker[1] {
				d.state = receiving
				d.buf = d.buf[:0]
			} else if b != StartMarker[0] {
				// AA AA 55 still opens a frame
				d.state = waitStart1
			}
		case receiving:
			if b == EndMarker[0] {
				d.state = waitEnd1
				continue
			}
			d.appendData(b)
		case waitEnd1:
			if b == EndMarker[1] {
				frame := make([]byte, len(d.buf))
				copy(frame, d.buf)
				frames = append(frames, frame)
				d.state = waitStart1
				continue
			}
			d.state = receiving
			if d.appendData(EndMarker[0]) {
				d.appendData(b)
			}
		}
	}
	return frames
}

// appendData adds b to the payload, abandoning the frame on overflow.
func (d *Decoder) appendData(b byte) bool {
	if len(d.buf) >= d.max {
		d.dropped++
		d.state = waitStart1
		d.buf = d.buf[:0]
		return false
	}
	d.buf = append(d.buf, b)
	return true
}

// Dropped reports how many frames were abandoned for exceeding the limit.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Reset discards any partial frame.
func (d *Decoder) Reset() {
	d.state = waitStart1
	d.buf = d.buf[:0]
}
