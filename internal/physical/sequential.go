package physical

import "math"

// SequentialPatternDetector recognises reads that continue the block ending
// right before them.
type SequentialPatternDetector struct {
	store *BlockStore
}

// NewSequentialPatternDetector creates a detector over store.
func NewSequentialPatternDetector(store *BlockStore) *SequentialPatternDetector {
	return &SequentialPatternDetector{store: store}
}

// IsSequentialRead reports whether the byte before pos is covered.
func (d *SequentialPatternDetector) IsSequentialRead(pos int64) bool {
	if pos <= 0 {
		return false
	}
	_, ok := d.store.GetBlock(pos - 1)
	return ok
}

// Generation returns one more than the generation of the block covering
// pos-1, or 0 when the read is not sequential.
func (d *SequentialPatternDetector) Generation(pos int64) int64 {
	if pos <= 0 {
		return 0
	}
	b, ok := d.store.GetBlock(pos - 1)
	if !ok {
		return 0
	}
	return b.Generation() + 1
}

// SequentialReadProgression sizes the read-ahead window of a sequential run:
// size(g) = blockSize * base^(g*speed).
type SequentialReadProgression struct {
	blockSize int64
	base      float64
	speed     float64
}

// NewSequentialReadProgression creates a progression.
func NewSequentialReadProgression(blockSize int64, base, speed float64) *SequentialReadProgression {
	return &SequentialReadProgression{blockSize: blockSize, base: base, speed: speed}
}

// SizeForGeneration returns the window size for generation g, saturating at
// math.MaxInt64. Negative generations are treated as 0.
func (p *SequentialReadProgression) SizeForGeneration(g int64) int64 {
	if g < 0 {
		g = 0
	}
	size := float64(p.blockSize) * math.Pow(p.base, float64(g)*p.speed)
	if math.IsInf(size, 1) || math.IsNaN(size) || size >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(size)
}

func saturatingAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
