/*
 * Copyright 2023 Treelite Contributors.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package gtil

import (
	"runtime"
	"sync"
)

// resolveNumWorkers maps the configured thread count to the actual worker
// count: zero or negative means "use all cores".
func resolveNumWorkers(nthread int) int {
	if nthread <= 0 {
		return runtime.NumCPU()
	}
	return nthread
}

// parallelFor runs fn(i) for every i in [0, n) on numWorkers goroutines with
// a static partition: worker w owns the contiguous range of indices
// [w*chunk, min((w+1)*chunk, n)). Workers never share an index, so fn may
// write to per-index output slots without synchronization.
func parallelFor(n uint64, numWorkers int, fn func(i uint64)) {
	if n == 0 {
		return
	}
	if uint64(numWorkers) > n {
		numWorkers = int(n)
	}
	if numWorkers == 1 {
		for i := uint64(0); i < n; i++ {
			fn(i)
		}
		return
	}
	chunk := (n + uint64(numWorkers) - 1) / uint64(numWorkers)
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		begin := uint64(w) * chunk
		end := begin + chunk
		if end > n {
			end = n
		}
		if begin >= end {
			break
		}
		wg.Add(1)
		go func(begin, end uint64) {
			defer wg.Done()
			for i := begin; i < end; i++ {
				fn(i)
			}
		}(begin, end)
	}
	wg.Wait()
}
