package common

import "encoding/binary"

// KeyKind enumerates the kind of key: a deletion tombstone, a set
// value, a merged value, etc.
type KeyKind byte

const (
	KeyKindUnknown KeyKind = iota
	KeyKindDelete
	KeyKindSet

	keyKindMax = KeyKindSet
)

// SeqNum is a sequence number defining precedence among identical keys. A key
// with a higher sequence number takes precedence over a key with an equal user
// key of a lower sequence number.
type SeqNum uint64

// MaxSeqNum is the largest sequence number a 7-byte field can carry.
const MaxSeqNum SeqNum = (1 << 56) - 1

// InternalKeyTrailer encodes a [SeqNum (7) + KeyKind (1)].
type InternalKeyTrailer uint64

const InternalKeyTrailerLen = 8

// maxTrailer sorts before every real trailer of the same user key, so a
// separator carrying it stays below the first entry of the next block.
const maxTrailer = InternalKeyTrailer(uint64(MaxSeqNum)<<8 | uint64(keyKindMax))

// InternalKey or internal key. Due to the LSM structure, keys are never updated
// in place, but overwritten with new versions. An InternalKey is composed of the
// user specified key, a sequence number (7 bytes) and a kind (1 byte).
//
//	+-------------+------------+----------+
//	| UserKey (N) | SeqNum (7) | Kind (1) |
//	+-------------+------------+----------+
type InternalKey struct {
	UserKey []byte
	Trailer InternalKeyTrailer
}

func MakeKey(userKey []byte, num SeqNum, kind KeyKind) InternalKey {
	trailer := InternalKeyTrailer((uint64(num) << 8) | uint64(kind))
	return InternalKey{
		UserKey: userKey,
		Trailer: trailer,
	}
}

func (k *InternalKey) Size() int {
	return len(k.UserKey) + InternalKeyTrailerLen
}

func (k *InternalKey) SeqNum() SeqNum {
	return SeqNum(k.Trailer >> 8)
}

func (k *InternalKey) KeyKind() KeyKind {
	return KeyKind(k.Trailer & 0xFF)
}

// Valid reports whether the kind byte is one this table version understands.
func (k *InternalKey) Valid() bool {
	kind := k.KeyKind()
	return kind > KeyKindUnknown && kind <= keyKindMax
}

// Clone returns a copy of k whose UserKey does not alias the receiver's.
func (k *InternalKey) Clone() InternalKey {
	return InternalKey{
		UserKey: append([]byte(nil), k.UserKey...),
		Trailer: k.Trailer,
	}
}

// SerializeTo serialise an internal key into given buffer. Caller must ensure
// buf has enough size to hold.
func (k *InternalKey) SerializeTo(buf []byte) {
	i := copy(buf, k.UserKey)
	binary.LittleEndian.PutUint64(buf[i:], uint64(k.Trailer))
}

func (k *InternalKey) Serialize() []byte {
	buf := make([]byte, k.Size())
	k.SerializeTo(buf)
	return buf
}

func DeserializeKey(key []byte) *InternalKey {
	n := len(key) - InternalKeyTrailerLen
	if n >= 0 {
		return &InternalKey{
			UserKey: key[:n:n],
			Trailer: InternalKeyTrailer(binary.LittleEndian.Uint64(key[n:])),
		}
	}

	return &InternalKey{
		Trailer: InternalKeyTrailer(KeyKindUnknown),
	}
}

// Separator returns an internal key x such that k <= x < other, with the user
// key shortened as much as the comparer allows. When the user key actually
// shrank, x takes the maximum trailer so it still sorts below every real entry
// of other's user key.
func (k *InternalKey) Separator(cmp IComparer, other *InternalKey) *InternalKey {
	sep := cmp.Separator(nil, k.UserKey, other.UserKey)
	if len(sep) < len(k.UserKey) && cmp.Compare(k.UserKey, sep) < 0 {
		return &InternalKey{UserKey: sep, Trailer: maxTrailer}
	}
	return &InternalKey{UserKey: sep, Trailer: k.Trailer}
}

// Successor returns an internal key x >= k, with the user key shortened as much
// as the comparer allows.
func (k *InternalKey) Successor(cmp IComparer) *InternalKey {
	succ := cmp.Successor(nil, k.UserKey)
	if len(succ) < len(k.UserKey) && cmp.Compare(k.UserKey, succ) < 0 {
		return &InternalKey{UserKey: succ, Trailer: maxTrailer}
	}
	return &InternalKey{UserKey: succ, Trailer: k.Trailer}
}
