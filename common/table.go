package common

type TableVersion byte

const (
	TableV1 TableVersion = iota + 1
)

const (
	// MagicNumberLen is the length of the magic tail of the footer. The magic
	// value identifies the table version.
	MagicNumberLen = 8

	// TableFooterLen is the fixed footer size:
	// [metaindex handle | index handle | padding | magic(8)].
	TableFooterLen = 48
)

// MagicNumber is 0xdb4775248b80fb57, little-endian.
const MagicNumber = "\x57\xfb\x80\x8b\x24\x75\x47\xdb"

// FilterMetaPrefix prefixes the meta-index key that maps a filter policy name
// to its filter block handle.
const FilterMetaPrefix = "filter."
