package rooms

import (
	"math/rand/v2"

	"github.com/gidbecxa/triviarush-server/internal/store"
)

// Shuffle permutes s in place with the Fisher-Yates algorithm: walking down
// from the last index, each slot is swapped with a uniformly chosen slot at or
// below it, so every permutation is equally likely.
func Shuffle[T any](rng *rand.Rand, s []T) {
	for i := len(s) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}

// ShuffleOptions reorders every question's options independently. Each
// question gets its own copy of the options slice.
func (m *Manager) ShuffleOptions(questions []store.Question) {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()

	for i := range questions {
		opts := append([]string(nil), questions[i].Options...)
		Shuffle(m.rng, opts)
		questions[i].Options = opts
	}
}
