package console

// Diagnostics answers the read-only `bi`/`caps`/`mem` verbs from whatever
// component owns that state (internal/bootinfo, internal/capalloc). A nil
// map with ok=false maps to `ERR <VERB> reason=eunavailable` (spec §4.6).
type Diagnostics interface {
	BootInfoSummary() (map[string]any, bool)
	CapsSummary() (map[string]any, bool)
	MemSummary() (map[string]any, bool)
	CacheLogLines(count int) ([]string, bool)
}
