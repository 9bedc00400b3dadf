package xkafka

import (
	"hash/crc32"
	"hash/fnv"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
)

// partitioner 为带键（或无键）的消息选择分区，n > 0。
type partitioner func(key []byte, n int32) int32

func newPartitioner(name string) partitioner {
	switch name {
	case "murmur2":
		return func(key []byte, n int32) int32 { return murmur2Partition(key, n) }
	case "consistent":
		return func(key []byte, n int32) int32 { return int32(crc32.ChecksumIEEE(key) % uint32(n)) }
	case "consistent_random":
		return keyedOrRandom(func(key []byte, n int32) int32 { return int32(crc32.ChecksumIEEE(key) % uint32(n)) })
	case "fnv1a":
		return fnv1aPartition
	case "fnv1a_random":
		return keyedOrRandom(fnv1aPartition)
	case "random":
		return randomPartition
	case "xxhash":
		return keyedOrRandom(func(key []byte, n int32) int32 { return int32(xxhash.Sum64(key) % uint64(n)) })
	default:
		return keyedOrRandom(murmur2Partition)
	}
}

// keyedOrRandom 有键时使用 keyed，无键时随机。
func keyedOrRandom(keyed partitioner) partitioner {
	return func(key []byte, n int32) int32 {
		if key == nil {
			return randomPartition(key, n)
		}
		return keyed(key, n)
	}
}

func randomPartition(_ []byte, n int32) int32 {
	return rand.Int32N(n)
}

func fnv1aPartition(key []byte, n int32) int32 {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int32(h.Sum32() % uint32(n))
}

// murmur2Partition 与 Java 客户端的默认分区器一致：toPositive(murmur2(key)) % n。
func murmur2Partition(key []byte, n int32) int32 {
	return int32(murmur2(key)&0x7fffffff) % n
}

func murmur2(data []byte) uint32 {
	const (
		seed uint32 = 0x9747b28c
		m    uint32 = 0x5bd1e995
		r           = 24
	)
	length := len(data)
	h := seed ^ uint32(length)

	for i := 0; i+4 <= length; i += 4 {
		k := uint32(data[i]) | uint32(data[i+1])<<8 | uint32(data[i+2])<<16 | uint32(data[i+3])<<24
		k *= m
		k ^= k >> r
		k *= m
		h *= m
		h ^= k
	}

	tail := length &^ 3
	switch length & 3 {
	case 3:
		h ^= uint32(data[tail+2]) << 16
		fallthrough
	case 2:
		h ^= uint32(data[tail+1]) << 8
		fallthrough
	case 1:
		h ^= uint32(data[tail])
		h *= m
	}

	h ^= h >> 13
	h *= m
	h ^= h >> 15
	return h
}
