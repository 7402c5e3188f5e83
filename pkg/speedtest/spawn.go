package speedtest

// Spawner owns the goroutines the runner starts for latency tests, so a
// caller can run them under its own supervision. Nil means plain `go`.
type Spawner interface {
	Go(name string, fn func())
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(name string, fn func())

func (f SpawnerFunc) Go(name string, fn func()) { f(name, fn) }
