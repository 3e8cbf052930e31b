package config

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Flat property keys accepted by ApplyProperties. They mirror the dotted keys
// used by other accelerator clients so one properties file can drive both.
const (
	KeyBlobStoreCapacity       = "blobstore.capacity"
	KeyMetadataStoreCapacity   = "metadatastore.capacity"
	KeyBlockSizeBytes          = "blocksizebytes"
	KeyReadAheadBytes          = "readaheadbytes"
	KeyMaxRangeSizeBytes       = "maxrangesizebytes"
	KeyPartSizeBytes           = "partsizebytes"
	KeySequentialPrefetchBase  = "sequentialprefetch.base"
	KeySequentialPrefetchSpeed = "sequentialprefetch.speed"
	KeyBlockReadTimeout        = "blockreadtimeout"
	KeyBlockReadRetryCount     = "blockreadretrycount"
	KeyCacheEnabled            = "cache.enabled"
	KeyCacheEndpoint           = "cache.endpoint"
	KeyCacheFlush              = "cache.flush"
)

type propertySetter func(p *PhysicalIOConfig, val string) error

var physicalIOSetters = map[string]propertySetter{
	KeyBlobStoreCapacity:     intSetter(func(p *PhysicalIOConfig, v int) { p.BlobStoreCapacity = v }),
	KeyMetadataStoreCapacity: intSetter(func(p *PhysicalIOConfig, v int) { p.MetadataStoreCapacity = v }),
	KeyBlockSizeBytes:        sizeSetter(func(p *PhysicalIOConfig, v ByteSize) { p.BlockSize = v }),
	KeyReadAheadBytes:        sizeSetter(func(p *PhysicalIOConfig, v ByteSize) { p.ReadAhead = v }),
	KeyMaxRangeSizeBytes:     sizeSetter(func(p *PhysicalIOConfig, v ByteSize) { p.MaxRangeSize = v }),
	KeyPartSizeBytes:         sizeSetter(func(p *PhysicalIOConfig, v ByteSize) { p.PartSize = v }),
	KeySequentialPrefetchBase: floatSetter(func(p *PhysicalIOConfig, v float64) {
		p.SequentialPrefetchBase = v
	}),
	KeySequentialPrefetchSpeed: floatSetter(func(p *PhysicalIOConfig, v float64) {
		p.SequentialPrefetchSpeed = v
	}),
	// Timeout is given in milliseconds.
	KeyBlockReadTimeout: intSetter(func(p *PhysicalIOConfig, v int) {
		p.BlockReadTimeout = time.Duration(v) * time.Millisecond
	}),
	KeyBlockReadRetryCount: intSetter(func(p *PhysicalIOConfig, v int) { p.BlockReadRetryCount = v }),
	KeyCacheEnabled:        boolSetter(func(p *PhysicalIOConfig, v bool) { p.EnableTailMetadataCaching = v }),
	KeyCacheEndpoint: func(p *PhysicalIOConfig, val string) error {
		p.CacheEndpoint = val
		return nil
	},
	KeyCacheFlush: boolSetter(func(p *PhysicalIOConfig, v bool) { p.EnableCacheFlush = v }),
}

// PhysicalIOKeys lists the accepted property keys in sorted order.
func PhysicalIOKeys() []string {
	keys := make([]string, 0, len(physicalIOSetters))
	for k := range physicalIOSetters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ApplyProperties overrides fields from flat key/value pairs. Unknown keys
// are ignored; malformed values are INVALID_CONFIG errors.
func (p *PhysicalIOConfig) ApplyProperties(props map[string]string) error {
	for key, val := range props {
		set, ok := physicalIOSetters[strings.ToLower(key)]
		if !ok {
			continue
		}
		if err := set(p, strings.TrimSpace(val)); err != nil {
			return invalid("property %s=%q: %v", key, val, err)
		}
	}
	return nil
}

func intSetter(apply func(*PhysicalIOConfig, int)) propertySetter {
	return func(p *PhysicalIOConfig, val string) error {
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		apply(p, n)
		return nil
	}
}

func sizeSetter(apply func(*PhysicalIOConfig, ByteSize)) propertySetter {
	return func(p *PhysicalIOConfig, val string) error {
		n, err := ParseSize(val)
		if err != nil {
			return err
		}
		apply(p, n)
		return nil
	}
}

func floatSetter(apply func(*PhysicalIOConfig, float64)) propertySetter {
	return func(p *PhysicalIOConfig, val string) error {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return err
		}
		apply(p, f)
		return nil
	}
}

func boolSetter(apply func(*PhysicalIOConfig, bool)) propertySetter {
	return func(p *PhysicalIOConfig, val string) error {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		apply(p, b)
		return nil
	}
}
