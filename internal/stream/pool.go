package stream

import "sync"

// Buffer pools for the hot read paths of the ingestion handler, listener
// handler, and relay fetcher: reused fixed-size byte slices to keep GC
// pressure flat under sustained high-throughput fan-out. Kept from the
// teacher's buffer pooling idiom.
const (
	// SmallBufferSize for metadata and small reads.
	SmallBufferSize = 4096

	// LargeBufferSize for streaming reads.
	LargeBufferSize = 16384

	// MetaBufferSize for ICY metadata assembly.
	MetaBufferSize = 512
)

var (
	smallBufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, SmallBufferSize)
			return &buf
		},
	}

	largeBufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, LargeBufferSize)
			return &buf
		},
	}

	metaBufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, 0, MetaBufferSize)
			return &buf
		},
	}
)

// GetSmallBuffer gets a 4KB buffer from the pool.
func GetSmallBuffer() *[]byte { return smallBufferPool.Get().(*[]byte) }

// PutSmallBuffer returns a buffer to the small pool.
func PutSmallBuffer(buf *[]byte) {
	if buf != nil && cap(*buf) >= SmallBufferSize {
		*buf = (*buf)[:SmallBufferSize]
		smallBufferPool.Put(buf)
	}
}

// GetLargeBuffer gets a 16KB buffer from the pool.
func GetLargeBuffer() *[]byte { return largeBufferPool.Get().(*[]byte) }

// PutLargeBuffer returns a buffer to the large pool.
func PutLargeBuffer(buf *[]byte) {
	if buf != nil && cap(*buf) >= LargeBufferSize {
		*buf = (*buf)[:LargeBufferSize]
		largeBufferPool.Put(buf)
	}
}

// GetMetaBuffer gets a metadata assembly buffer from the pool.
func GetMetaBuffer() *[]byte {
	bufPtr := metaBufferPool.Get().(*[]byte)
	*bufPtr = (*bufPtr)[:0]
	return bufPtr
}

// PutMetaBuffer returns a metadata buffer to the pool.
func PutMetaBuffer(buf *[]byte) {
	if buf != nil && cap(*buf) >= MetaBufferSize {
		*buf = (*buf)[:0]
		metaBufferPool.Put(buf)
	}
}
