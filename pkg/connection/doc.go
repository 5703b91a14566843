// Package connection retries backend connection attempts.
//
// Delays grow exponentially from 200ms by a factor of two up to 10s, plus
// up to 25% random extra:
//
//	delay(n) = min(Initial * Multiplier^(n-1), Max) * (1 + Jitter*rand[0,1))
//
// Retry only repeats errors its Retryable predicate accepts. Callers
// classify failures: a rejected identity or an incompatible backend is
// final, an unreachable backend is not.
package connection
