package server

// framer cuts binary websocket payloads into fixed-size media frames. Bytes
// that do not fill a frame are carried over to the next payload so every
// frame handed to a channel represents exactly one frame duration.
type framer struct {
	size  int
	carry []byte
}

func newFramer(size int) *framer {
	return &framer{size: size}
}

// split returns the complete frames available after appending data.
func (f *framer) split(data []byte) [][]byte {
	if f.size <= 0 {
		return [][]byte{data}
	}
	buf := data
	if len(f.carry) > 0 {
		buf = append(f.carry, data...)
		f.carry = nil
	}
	var frames [][]byte
	for len(buf) >= f.size {
		frames = append(frames, buf[:f.size:f.size])
		buf = buf[f.size:]
	}
	if len(buf) > 0 {
		f.carry = append([]byte(nil), buf...)
	}
	return frames
}

// pending returns the number of carried-over bytes.
func (f *framer) pending() int { return len(f.carry) }
