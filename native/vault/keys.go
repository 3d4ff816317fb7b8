package vault

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

var (
	vaultPrefix      = []byte("vault/")
	poolSuffix       = []byte("/pool")
	userSegment      = []byte("/user/")
	balanceSegment   = []byte("/balance/")
	assetSegment     = []byte("/asset/")
	assetIndexSuffix = []byte("/assets")
)

func scopedKey(poolID uint64, segment []byte, parts ...[]byte) []byte {
	id := strconv.FormatUint(poolID, 10)
	size := len(vaultPrefix) + len(id) + len(segment)
	for _, part := range parts {
		size += len(part)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, vaultPrefix...)
	buf = append(buf, id...)
	buf = append(buf, segment...)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	return buf
}

func poolKey(poolID uint64) []byte {
	return scopedKey(poolID, poolSuffix)
}

func userKey(poolID uint64, addr common.Address) []byte {
	return scopedKey(poolID, userSegment, addr.Bytes())
}

func balanceKey(poolID uint64, account, asset common.Address) []byte {
	return scopedKey(poolID, balanceSegment, account.Bytes(), asset.Bytes())
}

func assetKey(poolID uint64, asset common.Address) []byte {
	return scopedKey(poolID, assetSegment, asset.Bytes())
}

func assetIndexKey(poolID uint64) []byte {
	return scopedKey(poolID, assetIndexSuffix)
}
