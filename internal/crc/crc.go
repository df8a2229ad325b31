// Package crc implements the table-driven 8-bit CRC used to validate
// backscatter frames.
package crc

import "fmt"

// CRC8 describes an MSB-first 8-bit cyclic redundancy check.
type CRC8 struct {
	Name    string
	Init    uint8
	Poly    uint8
	Residue uint8

	tbl Table
}

// CCITT is CRC-8-CCITT: polynomial 0x07, zero seed, zero residue.
var CCITT = NewCRC("CCITT", 0x00, 0x07, 0x00)

// NewCRC builds a CRC8 and its lookup table.
func NewCRC(name string, init, poly, residue uint8) (crc CRC8) {
	crc.Name = name
	crc.Init = init
	crc.Poly = poly
	crc.Residue = residue
	crc.tbl = NewTable(crc.Poly)

	return
}

func (crc CRC8) String() string {
	return fmt.Sprintf("{Name:%s Init:0x%02X Poly:0x%02X Residue:0x%02X}", crc.Name, crc.Init, crc.Poly, crc.Residue)
}

// Checksum returns the running CRC over data.
func (crc CRC8) Checksum(data []byte) uint8 {
	return Checksum(crc.Init, data, crc.tbl)
}

// Valid reports whether data, including its trailing checksum byte, leaves
// the expected residue.
func (crc CRC8) Valid(data []byte) bool {
	return crc.Checksum(data) == crc.Residue
}

// Table is the 256-entry lookup table for one polynomial.
type Table [256]uint8

// NewTable computes the lookup table for poly.
func NewTable(poly uint8) (table Table) {
	for tIdx := range table {
		crc := uint8(tIdx)
		for bIdx := 0; bIdx < 8; bIdx++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc = crc << 1
			}
		}
		table[tIdx] = crc
	}
	return table
}

// Checksum folds data into init using table.
func Checksum(init uint8, data []byte, table Table) (crc uint8) {
	crc = init
	for _, v := range data {
		crc = table[crc^v]
	}
	return
}
