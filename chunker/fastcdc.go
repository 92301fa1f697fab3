package chunker

import (
	"io"
	"math/bits"
)

// FastCDC implements gear-table rolling hash content-defined chunking with
// normalized chunking (two masks: strict while below the average size,
// relaxed at or above it).
//
// Paper: "FastCDC: a Fast and Efficient Content-Defined Chunking Approach
// for Data Deduplication", https://www.usenix.org/system/files/conference/atc16/atc16-paper-xia.pdf
type FastCDC struct {
	avgSize   int
	seed      uint64
	gear      [256]uint64
	minSize   int
	maxSize   int
	maskLong  uint64
	maskShort uint64

	buf      [4096]byte
	buffered int
}

const (
	lcgMul = 6364136223846793005
	lcgInc = 1442695040888963407
)

func createGear(seed uint64) [256]uint64 {
	var table [256]uint64
	v := seed
	for i := range table {
		v = v*lcgMul + lcgInc
		table[i] = v
	}
	return table
}

func getMasks(avgSize int, ncLevel uint, seed uint64) (maskShort, maskLong uint64) {
	bitCount := uint(bits.OnesCount32(nextPowerOfTwo(uint32(avgSize)) - 1))
	if bitCount == 13 {
		// From the paper.
		return 0x0003590703530000, 0x0000d90003530000
	}
	mask := uint64(0)
	v := seed
	for uint(bits.OnesCount64(mask)) < bitCount-ncLevel {
		v = v*lcgMul + lcgInc
		mask = bits.RotateLeft64(mask|1, int(uint32(v)&0x3f))
	}
	maskLong = mask
	for uint(bits.OnesCount64(mask)) < bitCount+ncLevel {
		v = v*lcgMul + lcgInc
		mask = bits.RotateLeft64(mask|1, int(uint32(v)&0x3f))
	}
	maskShort = mask
	return maskShort, maskLong
}

// NewFastCDC constructs a FastCDC chunker with the given target average
// chunk size and gear-table seed.
func NewFastCDC(avgSize int, seed uint64) *FastCDC {
	maskShort, maskLong := getMasks(avgSize, 2, seed)
	return &FastCDC{
		avgSize:   avgSize,
		seed:      seed,
		gear:      createGear(seed),
		minSize:   avgSize / 4,
		maxSize:   avgSize * 8,
		maskLong:  maskLong,
		maskShort: maskShort,
	}
}

func (c *FastCDC) Type() Type {
	return Type{Method: "fastcdc", AvgSize: c.avgSize, Seed: c.seed}
}

func (c *FastCDC) Chunk(r io.Reader, w io.Writer) (Status, error) {
	var hash uint64
	pos := 0
	for {
		n, err := r.Read(c.buf[c.buffered:])
		max := n + c.buffered
		if max == 0 {
			if err != nil && err != io.EOF {
				return Finished, err
			}
			return Finished, nil
		}
		for i := 0; i < max; i++ {
			if pos >= c.minSize {
				hash = (hash << 1) + c.gear[c.buf[i]]
				if (pos < c.avgSize && hash&c.maskShort == 0) ||
					(pos >= c.avgSize && hash&c.maskLong == 0) ||
					pos >= c.maxSize {
					if _, werr := w.Write(c.buf[:i+1]); werr != nil {
						return Finished, werr
					}
					copy(c.buf[:max-i-1], c.buf[i+1:max])
					c.buffered = max - i - 1
					return Continue, nil
				}
			}
			pos++
		}
		if _, werr := w.Write(c.buf[:max]); werr != nil {
			return Finished, werr
		}
		c.buffered = 0
		if err != nil && err != io.EOF {
			return Finished, err
		}
	}
}
