package loadtest

import (
	"sort"
	"time"

	"bulkload/internal/store/simstore"
)

// BasicPreset はスロットルのないシミュレーションで書き込むプリセット
func BasicPreset() Config {
	c := DefaultConfig()
	c.Name = "basic"
	c.Description = "Bulk load against an unthrottled in-process store"
	c.Sim = simstore.Config{Partitions: 4}
	return c
}

// ThrottledPreset は容量制限で Overloaded を発生させるプリセット
func ThrottledPreset() Config {
	c := DefaultConfig()
	c.Name = "throttled"
	c.Description = "Partitions with limited write capacity return overloaded"
	c.Sim = simstore.Config{
		Partitions: 4,
		Rate:       200,
		Burst:      20,
	}
	return c
}

// GatewayPreset はスロットルの半分を HTTP 429 として返すプリセット
func GatewayPreset() Config {
	c := ThrottledPreset()
	c.Name = "gateway"
	c.Description = "Half of the throttles surface as HTTP 429 from a gateway"
	c.Sim.GatewayRatio = 0.5
	return c
}

// ChaosPreset はパーティション停止を注入するプリセット
func ChaosPreset() Config {
	c := ThrottledPreset()
	c.Name = "chaos"
	c.Description = "Throttled store with random partition suspensions and rejections"
	c.Sim.FatalRatio = 0.01
	c.EnableChaos = true
	c.Chaos = simstore.ChaosConfig{
		Interval:    time.Second,
		TargetCount: 1,
		SuspendTime: 500 * time.Millisecond,
	}
	return c
}

// QuickPreset は動作確認用の小さなプリセット
func QuickPreset() Config {
	c := ThrottledPreset()
	c.Name = "quick"
	c.Description = "Quick verification with few threads and short backoff"
	c.Threads = 4
	c.MaxAttempts = 3
	c.BackoffBase = 5 * time.Millisecond
	return c
}

var presets = map[string]func() Config{
	"basic":     BasicPreset,
	"throttled": ThrottledPreset,
	"gateway":   GatewayPreset,
	"chaos":     ChaosPreset,
	"quick":     QuickPreset,
}

// GetPreset は名前からプリセットを取得する
func GetPreset(name string) (Config, bool) {
	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return Config{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
