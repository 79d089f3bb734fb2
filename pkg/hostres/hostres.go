// Package hostres scales the engine's concurrency and memory caps to the
// host's detected RAM: defaults are 6/16/32/72 buffered
// segments and 3/7/15/36 in-flight fetches for unknown/<=128GiB/<=384GiB/
// larger hosts.
package hostres

import (
	"github.com/elastic/go-sysinfo"
)

// DefaultSegmentSize is Z, the default bytes requested per range fetch.
const DefaultSegmentSize = 384 * 1024 * 1024 // 384 MiB

const giB = 1 << 30

// Tier bundles the memory-cap and concurrency-cap defaults for one host
// RAM bracket.
type Tier struct {
	MemoryCapSegments int
	ConcurrencyCap    int
}

var (
	unknownTier = Tier{MemoryCapSegments: 6, ConcurrencyCap: 3}
	smallTier   = Tier{MemoryCapSegments: 16, ConcurrencyCap: 7}
	mediumTier  = Tier{MemoryCapSegments: 32, ConcurrencyCap: 15}
	largeTier   = Tier{MemoryCapSegments: 72, ConcurrencyCap: 36}
)

// Defaults detects total host memory and returns the matching tier. Hosts
// whose memory can't be determined get the conservative unknown tier
// rather than an error -- the caller can always override explicitly.
func Defaults() Tier {
	total, err := totalMemoryBytes()
	if err != nil || total == 0 {
		return unknownTier
	}

	switch gib := total / giB; {
	case gib <= 128:
		return smallTier
	case gib <= 384:
		return mediumTier
	default:
		return largeTier
	}
}

func totalMemoryBytes() (uint64, error) {
	host, err := sysinfo.Host()
	if err != nil {
		return 0, err
	}
	mem, err := host.Memory()
	if err != nil {
		return 0, err
	}
	return mem.Total, nil
}
