package pool

import (
	"bytes"
	"sync"
)

// maxPooledBufferCap буферы крупнее этого не возвращаются в пул, чтобы
// пиковые батчи не удерживали память после всплеска трафика
const maxPooledBufferCap = 1 << 20

// ObjectPools содержит пулы объектов для горячих путей сериализации
type ObjectPools struct {
	// Буферы для кодирования батчей событий перед отправкой в WebSocket
	bufferPool sync.Pool

	// Мапы для Redis HSET пайплайнов
	stringMapPool sync.Pool

	// Слайсы байт для промежуточной сборки сообщений
	byteSlicePool sync.Pool
}

// Global пулы объектов
var Global = &ObjectPools{
	bufferPool: sync.Pool{
		New: func() interface{} {
			return new(bytes.Buffer)
		},
	},
	stringMapPool: sync.Pool{
		New: func() interface{} {
			return make(map[string]string)
		},
	},
	byteSlicePool: sync.Pool{
		New: func() interface{} {
			return make([]byte, 0, 256)
		},
	},
}

// GetBuffer получает чистый буфер из пула
func (p *ObjectPools) GetBuffer() *bytes.Buffer {
	buf := p.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer возвращает буфер в пул
func (p *ObjectPools) PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBufferCap {
		return
	}
	p.bufferPool.Put(buf)
}

// GetStringMap получает map[string]string из пула
func (p *ObjectPools) GetStringMap() map[string]string {
	m := p.stringMapPool.Get().(map[string]string)
	for k := range m {
		delete(m, k)
	}
	return m
}

// PutStringMap возвращает map[string]string в пул
func (p *ObjectPools) PutStringMap(m map[string]string) {
	p.stringMapPool.Put(m)
}

// GetByteSlice получает []byte из пула
func (p *ObjectPools) GetByteSlice() []byte {
	return p.byteSlicePool.Get().([]byte)[:0]
}

// PutByteSlice возвращает []byte в пул
func (p *ObjectPools) PutByteSlice(b []byte) {
	p.byteSlicePool.Put(b)
}
