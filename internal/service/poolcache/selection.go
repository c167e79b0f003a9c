package poolcache

import (
	"cmp"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"slices"
)

// attemptSeed - детерминированное зерно для (ученик, экзамен, попытка):
// одинаковые входные данные дают одинаковую перестановку
func attemptSeed(learnerID, examID uint, attempt int) uint64 {
	sum := sha256.Sum256(fmt.Appendf(nil, "learner:%d|exam:%d|attempt:%d", learnerID, examID, attempt))
	return binary.BigEndian.Uint64(sum[:8])
}

// keyHash - первые 8 байт SHA-256 ключа кеша
func keyHash(key string) uint64 {
	sum := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint64(sum[:8])
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// uniqueCandidates сортирует и убирает дубликаты, чтобы результат тасовки
// не зависел от порядка, в котором источник вернул кандидатов
func uniqueCandidates(ids []uint) []uint {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// selectQuestions выбирает quantity вопросов из candidates с минимальным пересечением с history.
// history - ранее выданные наборы от старого к новому. Сначала берутся свежие вопросы,
// затем те, чья последняя выдача относится к самому старому набору, и так далее.
// Возвращает выборку и число повторно использованных вопросов.
// candidates должны быть уже нормализованы uniqueCandidates и содержать не меньше quantity элементов.
func selectQuestions(candidates []uint, history [][]uint, quantity int, rng *rand.Rand) ([]uint, int) {
	// 0 - свежий вопрос, i+1 - вопрос последний раз выдавался в наборе i
	rank := make(map[uint]int)
	for i, batch := range history {
		for _, id := range batch {
			rank[id] = i + 1
		}
	}

	pool := slices.Clone(candidates)
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	slices.SortStableFunc(pool, func(x, y uint) int {
		return cmp.Compare(rank[x], rank[y])
	})

	if quantity > len(pool) {
		quantity = len(pool)
	}
	selected := slices.Clone(pool[:quantity])
	reused := 0
	for _, id := range selected {
		if rank[id] > 0 {
			reused++
		}
	}
	rng.Shuffle(len(selected), func(i, j int) { selected[i], selected[j] = selected[j], selected[i] })
	return selected, reused
}

// overlapFraction - доля вопросов выборки, уже встречавшихся в истории
func overlapFraction(reused, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(reused) / float64(total)
}
