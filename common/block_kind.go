package common

type BlockKind byte

const (
	BlockKindUnknown BlockKind = iota
	BlockKindData
	BlockKindIndex
	BlockKindMetaIndex
	BlockKindFilter
	BlockKindStats
)

var BlockKindStrings = map[BlockKind]string{
	BlockKindData:      "data",
	BlockKindIndex:     "index",
	BlockKindMetaIndex: "metaindex",
	BlockKindFilter:    "filter",
	BlockKindStats:     "stats",
}
