package bot

import "sync"

// FNV-1a константы
const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// fnvHash - FNV-1a для строки без аллокаций
func fnvHash(s string) uint32 {
	h := uint32(fnvOffset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

// symbolLocks - полосатые мьютексы по символу.
//
// Один символ всегда попадает в одну полосу, поэтому все изменения
// позиции, стопа и cooldown по символу идут строго по одному.
// Разные символы в разных полосах не мешают друг другу.
type symbolLocks struct {
	stripes []sync.Mutex
}

func newSymbolLocks(n int) *symbolLocks {
	if n < 1 {
		n = 1
	}
	return &symbolLocks{stripes: make([]sync.Mutex, n)}
}

func (l *symbolLocks) index(symbol string) int {
	return int(fnvHash(symbol) % uint32(len(l.stripes)))
}

// lock захватывает полосу символа и возвращает функцию освобождения
func (l *symbolLocks) lock(symbol string) func() {
	m := &l.stripes[l.index(symbol)]
	m.Lock()
	return m.Unlock
}
