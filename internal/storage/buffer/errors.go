package buffer

import "errors"

// ErrBufferPoolExhausted is returned by NewPage/FetchPage when no frame is
// free and the replacer has nothing evictable.
var ErrBufferPoolExhausted = errors.New("buffer: pool exhausted, no frame available")
