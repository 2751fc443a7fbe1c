package crypto

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// InfoTag prefixes every encoded info payload sent to the controller.
const InfoTag = "{SRBX1}"

// infoAlphabet is the controller's base64 symbol table. Padding stays '='.
const infoAlphabet = "LVoJPiCN2R8G90yg+hmFHuacZ1OWMnrsSTXkYpUq/3dlbfKwv6xztjI7DeBE45QA"

// xDelta is the per-round accumulator increment.
const xDelta uint32 = 0x9E3779B9

// InfoEncoding is the base64 encoding used for XEncode output.
var InfoEncoding = base64.NewEncoding(infoAlphabet)

// ErrCorruptPayload is returned when decoded words carry an impossible length record.
var ErrCorruptPayload = errors.New("corrupt xencode payload")

// packWords converts bytes to little-endian uint32 words, zero-padding the last word.
// With withLength the input byte length is appended as an extra word.
func packWords(b []byte, withLength bool) []uint32 {
	n := (len(b) + 3) / 4
	size := n
	if withLength {
		size++
	}
	words := make([]uint32, size)
	for i := range n {
		var chunk [4]byte
		copy(chunk[:], b[i*4:])
		words[i] = binary.LittleEndian.Uint32(chunk[:])
	}
	if withLength {
		words[n] = uint32(len(b))
	}
	return words
}

// unpackWords serializes words back to little-endian bytes.
// With withLength the last word is treated as the byte length and the output is truncated to it.
func unpackWords(words []uint32, withLength bool) ([]byte, error) {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	if !withLength {
		return out, nil
	}

	if len(words) < 2 {
		return nil, fmt.Errorf("unpack %d words: %w", len(words), ErrCorruptPayload)
	}
	limit := (len(words) - 1) * 4
	size := int(words[len(words)-1])
	if size < limit-3 || size > limit {
		return nil, fmt.Errorf("length record %d outside [%d, %d]: %w", size, limit-3, limit, ErrCorruptPayload)
	}
	return out[:size], nil
}

// keyWords packs the key and zero-extends it to the 4 words the mixing function indexes.
func keyWords(key []byte) []uint32 {
	k := packWords(key, false)
	if len(k) < 4 {
		k = append(k, make([]uint32, 4-len(k))...)
	}
	return k
}

func mix(right, left, sum, k uint32) uint32 {
	return ((right >> 5) ^ (left << 2)) +
		(((left >> 3) ^ (right << 4)) ^ (sum ^ left)) +
		(k ^ right)
}

// XEncode obfuscates msg with key the way the SRUN controller expects.
// An empty msg yields an empty result.
func XEncode(msg, key []byte) []byte {
	if len(msg) == 0 {
		return []byte{}
	}

	v := packWords(msg, true)
	k := keyWords(key)

	n := len(v)
	right := v[n-1]
	var sum uint32
	for rounds := 6 + 52/n; rounds > 0; rounds-- {
		sum += xDelta
		e := (sum >> 2) & 3
		for p := range n {
			left := v[(p+1)%n]
			v[p] += mix(right, left, sum, k[(uint32(p)&3)^e])
			right = v[p]
		}
	}

	// Encode direction keeps every word, the length record included.
	out, _ := unpackWords(v, false)
	return out
}

// XDecode reverses XEncode. data must be a whole number of words, at least two.
func XDecode(data, key []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	if len(data)%4 != 0 || len(data) < 8 {
		return nil, fmt.Errorf("xdecode %d bytes: %w", len(data), ErrCorruptPayload)
	}

	v := make([]uint32, len(data)/4)
	for i := range v {
		v[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	k := keyWords(key)

	n := len(v)
	rounds := 6 + 52/n
	sum := uint32(rounds) * xDelta
	for ; rounds > 0; rounds-- {
		e := (sum >> 2) & 3
		for p := n - 1; p >= 0; p-- {
			right := v[(p+n-1)%n]
			left := v[(p+1)%n]
			v[p] -= mix(right, left, sum, k[(uint32(p)&3)^e])
		}
		sum -= xDelta
	}

	return unpackWords(v, true)
}
