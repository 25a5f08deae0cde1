// Copyright 2012 Rémy Oudompheng. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package delta

// This file implements Rabin fingerprinting, a rolling hash defined
// by an irreducible polynomial mod 2. The tables and constants below
// reproduce the ones used by the git/xdelta delta_index lineage
// bit-for-bit: the encoder seeds hash values while indexing a source
// and rolls them while scanning a target, and the two sides must
// agree on every 16-byte hash they compute.

// RabinWindow is the fixed window width, in bytes, that every Rabin
// hash is computed over.
const RabinWindow = 16

// poly is an irreducible polynomial of degree 31, b_31 ... b_0
// representing b_31 X^31 + ... + b_1 X + b_0.
const poly = 0xab59b4d1

const degree = 31

// rabinT and rabinU are the tables seen in the git source code.
// rabinT folds a byte back into the polynomial ring; rabinU cancels
// the contribution of a byte leaving a 16-byte rolling window.
var rabinT, rabinU [256]uint32

func init() {
	initRabinTables()
}

// initRabinTables initializes rabinT and rabinU.
func initRabinTables() {
	var bits [8]uint32 // bits[i] is X^(31+i) mod poly.
	p := uint32(poly &^ (1 << 31))
	for i := 0; i < 8; i++ {
		bits[i] = p
		if p>>31 == 1 {
			p ^= poly
		}
		p <<= 1
		if p>>31 == 1 {
			p ^= poly
		}
	}

	// Fill table rabinT. rabinT[i] = i * X^31 mod poly + X^31 if i is odd.
	for i := range rabinT {
		p := uint32(0)
		for j := 0; j < 8; j++ {
			if i&(1<<uint(j)) != 0 {
				p ^= bits[j]
			}
		}
		rabinT[i] = p | (uint32(i) << 31)
	}

	p = uint32(1)
	for i := 0; i < 8*RabinWindow; i++ {
		if i >= 8*RabinWindow-8 {
			// bits[i] = X^(8*Window-8+i) mod poly.
			bits[i-8*RabinWindow+8] = p
		}
		if p>>31 == 1 {
			p ^= poly
		}
		p <<= 1
		if p>>31 == 1 {
			p ^= poly
		}
	}

	// Fill table rabinU. rabinU[i] = i * X^(8*Window-8) mod poly.
	for i := range rabinU {
		p := uint32(0)
		for j := 0; j < 8; j++ {
			if i&(1<<uint(j)) != 0 {
				p ^= bits[j]
			}
		}
		rabinU[i] = p
	}
}

// RabinHash computes the Rabin hash of the first RabinWindow bytes of
// data. It panics if fewer than RabinWindow bytes are available,
// since callers are expected to have already checked window
// availability.
func RabinHash(data []byte) uint32 {
	_ = data[RabinWindow-1]
	var p uint32
	for _, b := range data[:RabinWindow] {
		// p <- (p*X^8 + b) mod poly
		// t clears the upper bit and adds the degree >= 31
		// part of p*X^8.
		t := rabinT[byte(p>>(degree-8))]
		p = (p << 8) ^ uint32(b) ^ t
	}
	return p
}

// rollRabin advances a Rabin hash by one byte: out leaves the window,
// in enters it. h must be the hash of the window ending just before
// in was appended.
func rollRabin(h uint32, out, in byte) uint32 {
	h ^= rabinU[out]
	return (h << 8) ^ uint32(in) ^ rabinT[byte(h>>(degree-8))]
}
