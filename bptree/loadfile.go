package bptree

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
)

// encodeIntKey renders n as a fixed-width 8-byte big-endian key, so that
// bytes.Compare on the resulting keys agrees with numeric order for every
// non-negative n — unlike n's decimal text, which does not sort correctly
// across different digit counts.
func encodeIntKey(n int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(n))
	return k
}

// synthesizeValue derives a value from an integer key for the
// debug/verification surface: an 8-byte little-endian record id whose two
// 4-byte halves both hold the key's low 32 bits, so a value read back is
// trivially checkable against the key it was stored under.
func synthesizeValue(key int64) []byte {
	v := make([]byte, 8)
	binary.LittleEndian.PutUint32(v[0:4], uint32(key))
	binary.LittleEndian.PutUint32(v[4:8], uint32(key))
	return v
}

// InsertFromFile reads whitespace-separated integer keys from r and calls
// Insert for each, in order. Used for verification/debugging.
func (idx *Index) InsertFromFile(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		n, err := strconv.ParseInt(scanner.Text(), 10, 64)
		if err != nil {
			return fmt.Errorf("bptree: insert from file: %w", err)
		}
		if err := idx.Insert(encodeIntKey(n), synthesizeValue(n)); err != nil && err != ErrDuplicateKey {
			return fmt.Errorf("bptree: insert from file: key %d: %w", n, err)
		}
	}
	return scanner.Err()
}

// RemoveFromFile reads whitespace-separated integer keys from r and calls
// Remove for each, in order.
func (idx *Index) RemoveFromFile(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		n, err := strconv.ParseInt(scanner.Text(), 10, 64)
		if err != nil {
			return fmt.Errorf("bptree: remove from file: %w", err)
		}
		if err := idx.Remove(encodeIntKey(n)); err != nil {
			return fmt.Errorf("bptree: remove from file: key %d: %w", n, err)
		}
	}
	return scanner.Err()
}
