package sourcelogger

import "bytes"

// ringBuffer 是一个固定大小的环形缓冲区
type ringBuffer struct {
	buf      []byte
	size     int
	writePos int
	full     bool
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{
		buf:  make([]byte, size),
		size: size,
	}
}

func (rb *ringBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}

	// 超过缓冲区大小时只保留最后 size 字节
	if n >= rb.size {
		copy(rb.buf, p[n-rb.size:])
		rb.writePos = 0
		rb.full = true
		return n, nil
	}

	remaining := rb.size - rb.writePos
	if n <= remaining {
		copy(rb.buf[rb.writePos:], p)
		rb.writePos += n
		if rb.writePos == rb.size {
			rb.writePos = 0
			rb.full = true
		}
		return n, nil
	}

	// 绕回
	copy(rb.buf[rb.writePos:], p[:remaining])
	copy(rb.buf, p[remaining:])
	rb.writePos = n - remaining
	rb.full = true
	return n, nil
}

func (rb *ringBuffer) String() string {
	if !rb.full {
		return string(rb.buf[:rb.writePos])
	}
	var result bytes.Buffer
	result.Grow(rb.size)
	result.Write(rb.buf[rb.writePos:])
	result.Write(rb.buf[:rb.writePos])
	return result.String()
}

func (rb *ringBuffer) Reset() {
	rb.writePos = 0
	rb.full = false
}
